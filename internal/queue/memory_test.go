package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue[string](DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	item := "test-item-1"
	if err := q.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.Dequeue(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}

	if items[0] != item {
		t.Errorf("Expected %s, got %v", item, items[0])
	}
}

func TestMemoryQueue_MultipleBatch(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 5
	q := NewMemoryQueue[int](config)
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	items, err := q.Dequeue(ctx, 5)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}
	if items[0] != 0 || items[4] != 4 {
		t.Errorf("Expected FIFO order, got %v", items)
	}

	items, err = q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	defer q.Close()

	start := time.Now()
	items, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Returned too early: %v", elapsed)
	}
}

func TestMemoryQueue_EnqueueFull(t *testing.T) {
	config := DefaultConfig("test")
	config.Capacity = 1
	q := NewMemoryQueue[int](config)
	defer q.Close()

	if err := q.Enqueue(context.Background(), 1); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, 2); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestMemoryQueue_CloseDrainsBufferedItems(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	q.Close()

	if err := q.Enqueue(ctx, 4); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}

	items, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue after close failed: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("Expected 3 buffered items, got %d", len(items))
	}

	if _, err := q.Dequeue(ctx, 10); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed once drained, got %v", err)
	}
}

func TestMemoryQueue_Concurrent(t *testing.T) {
	config := DefaultConfig("test")
	config.Capacity = 1000
	q := NewMemoryQueue[int](config)
	defer q.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := q.Enqueue(ctx, p*100+i); err != nil {
					t.Errorf("Enqueue failed: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	length, _ := q.Length(ctx)
	if length != 500 {
		t.Errorf("Expected 500 items, got %d", length)
	}
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue[string]()
	defer dlq.Close()

	ctx := context.Background()

	if err := dlq.Add(ctx, "failed-1", errors.New("boom")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := dlq.Add(ctx, "failed-2", ErrMaxRetriesExceeded); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Item != "failed-1" || items[0].Error != "boom" {
		t.Errorf("Unexpected first item: %+v", items[0])
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := dlq.Remove(ctx, items[0].ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	items, _ = dlq.List(ctx, 0)
	if len(items) != 1 {
		t.Errorf("Expected 1 item after remove, got %d", len(items))
	}
}
