package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"aigateway/internal/metrics"
	"aigateway/internal/providers"
	"aigateway/internal/registry"
	"aigateway/internal/timing"
)

// Stream is a committed chat stream. It is bound to one provider: failover
// only happens before the first chunk. The attempt is recorded once, when the
// stream ends, fails or is closed.
type Stream struct {
	ctx    context.Context
	d      *Dispatcher
	p      *plan
	a      *attempt
	inner  providers.ChatStream
	cancel context.CancelFunc
	idle   time.Duration

	first *providers.ChatChunk
	usage providers.Usage
	done  bool
	once  sync.Once
}

// Vendor is the provider serving the stream.
func (s *Stream) Vendor() registry.Vendor {
	return s.a.cand.Vendor
}

// Model is the model id sent to the provider.
func (s *Stream) Model() string {
	return s.a.cand.Model
}

// Attempts is the number of providers tried.
func (s *Stream) Attempts() int {
	return s.p.attempts
}

// Recv returns the next chunk, or io.EOF once the provider is done. A provider
// that sends nothing for the stream idle timeout fails the stream.
func (s *Stream) Recv() (providers.ChatChunk, error) {
	if s.first != nil {
		c := *s.first
		s.first = nil
		s.observe(c)
		return c, nil
	}
	if s.done {
		return providers.ChatChunk{}, io.EOF
	}

	timer := time.AfterFunc(s.idle, s.cancel)
	c, err := s.inner.Recv()
	if !timer.Stop() {
		err = &providers.VendorError{
			Vendor:  s.a.cand.Vendor,
			Kind:    providers.KindTimeout,
			Message: fmt.Sprintf("no chunk within %s", s.idle),
		}
	}
	if err != nil {
		s.done = true
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			return providers.ChatChunk{}, io.EOF
		}
		if s.ctx.Err() != nil {
			// the caller went away; keep what was delivered
			s.finish(nil)
		} else {
			s.finish(err)
		}
		return providers.ChatChunk{}, err
	}
	s.observe(c)
	return c, nil
}

func (s *Stream) observe(c providers.ChatChunk) {
	if c.Usage != nil {
		s.usage = *c.Usage
	}
}

// Close releases the provider connection. Closing before the end records the
// attempt with what was received so far.
func (s *Stream) Close() error {
	s.finish(nil)
	err := s.inner.Close()
	s.cancel()
	return err
}

func (s *Stream) finish(err error) {
	s.once.Do(func() {
		if err != nil {
			s.d.fail(context.Background(), s.p, s.a, err)
			return
		}
		s.d.succeed(s.p, s.a, metering{usage: s.usage})
	})
}

// emptyStream is what a provider that ends before any chunk produced.
type emptyStream struct{}

func (emptyStream) Recv() (providers.ChatChunk, error) { return providers.ChatChunk{}, io.EOF }
func (emptyStream) Close() error                       { return nil }

// ChatStream opens a chat stream. Candidates are tried until one delivers its
// first chunk within the request timeout.
func (d *Dispatcher) ChatStream(ctx context.Context, req *Request) (*Stream, error) {
	p, err := d.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	d.Metrics.Inc(metrics.Streams)

	for p.more() {
		a, err := d.next(ctx, p)
		if a == nil {
			if err != nil {
				return nil, err
			}
			break
		}
		if err == nil {
			var s *Stream
			if s, err = d.open(ctx, p, a); err == nil {
				return s, nil
			}
		}
		if final, stop := d.fail(ctx, p, a, err); stop {
			return nil, final
		}
	}
	return nil, p.exhausted()
}

// open starts the stream on one candidate and waits for its first chunk.
func (d *Dispatcher) open(ctx context.Context, p *plan, a *attempt) (s *Stream, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(d.config.RequestTimeout, cancel)

	stop := p.timings.Track(timing.ProviderTTFB)
	var inner providers.ChatStream
	defer func() {
		stop()
		if rec := recover(); rec != nil {
			p.logger.Error("Recover from panic in provider adapter", "panic", rec)
			err = fmt.Errorf("provider adapter panic: %v", rec)
		}
		if err != nil {
			timer.Stop()
			if inner != nil {
				inner.Close()
			}
			cancel()
		}
	}()

	chat := p.req.Chat
	chat.Model = a.cand.Model
	inner, err = a.adapter.ChatStream(streamCtx, chat)
	if err != nil {
		return nil, err
	}

	first, err := inner.Recv()
	if !timer.Stop() {
		return nil, &providers.VendorError{
			Vendor:  a.cand.Vendor,
			Kind:    providers.KindTimeout,
			Message: fmt.Sprintf("no first chunk within %s", d.config.RequestTimeout),
		}
	}

	s = &Stream{ctx: ctx, d: d, p: p, a: a, inner: inner, cancel: cancel, idle: d.config.StreamIdleTimeout}
	switch {
	case err == nil:
		s.first = &first
	case errors.Is(err, io.EOF):
		inner.Close()
		s.inner = emptyStream{}
	default:
		return nil, err
	}
	return s, nil
}
