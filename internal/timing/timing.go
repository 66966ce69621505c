// Package timing collects the per-request phase durations reported to clients
// through Server-Timing.
package timing

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Phase names one step of request handling.
type Phase string

const (
	Session            Phase = "session"
	MaxProviderRetries Phase = "maxProviderRetries"
	EnsureProvider     Phase = "ensureProvider"
	ModelCallCreate    Phase = "modelCallCreate"
	PreChecks          Phase = "preChecks"
	GetCredentials     Phase = "getCredentials"
	ProviderTTFB       Phase = "providerTtfb"
	TTFB               Phase = "ttfb"
	Streaming          Phase = "streaming"
	Usage              Phase = "usage"
	ModelStatus        Phase = "modelStatus"
	Total              Phase = "total"
)

// Phases lists every phase in reporting order.
var Phases = []Phase{
	Session, MaxProviderRetries, EnsureProvider, ModelCallCreate, PreChecks, GetCredentials,
	ProviderTTFB, TTFB, Streaming, Usage, ModelStatus, Total,
}

// Timings accumulates phase durations of one request. A nil *Timings ignores
// every call.
type Timings struct {
	mu        sync.Mutex
	now       func() time.Time
	start     time.Time
	firstByte time.Time
	phases    map[Phase]time.Duration
	finished  bool
}

// New starts the clock of a request.
func New() *Timings {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Timings {
	return &Timings{
		now:    now,
		start:  now(),
		phases: make(map[Phase]time.Duration, len(Phases)),
	}
}

// Track starts measuring p and returns the function that stops it.
// Repeated measurements of the same phase add up.
func (t *Timings) Track(p Phase) func() {
	if t == nil {
		return func() {}
	}
	begin := t.now()
	var once sync.Once
	return func() {
		once.Do(func() { t.Add(p, t.now().Sub(begin)) })
	}
}

// Add adds d to phase p.
func (t *Timings) Add(p Phase, d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases[p] += d
}

// MarkFirstByte records the time to first byte. Only the first call counts.
func (t *Timings) MarkFirstByte() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.firstByte.IsZero() {
		return
	}
	t.firstByte = t.now()
	t.phases[TTFB] = t.firstByte.Sub(t.start)
}

// Finish sets the total and, once a first byte was sent, the streaming time.
// Later calls do nothing.
func (t *Timings) Finish() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	end := t.now()
	t.phases[Total] = end.Sub(t.start)
	if !t.firstByte.IsZero() {
		t.phases[Streaming] = end.Sub(t.firstByte)
	}
}

// Get returns the duration of p and whether it was recorded.
func (t *Timings) Get(p Phase) (time.Duration, bool) {
	if t == nil {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.phases[p]
	return d, ok
}

type entry struct {
	phase Phase
	ms    float64
}

func (t *Timings) entries() []entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]entry, 0, len(t.phases))
	for _, p := range Phases {
		if d, ok := t.phases[p]; ok {
			out = append(out, entry{phase: p, ms: float64(d.Microseconds()) / 1000})
		}
	}
	return out
}

// ServerTiming formats the recorded phases as a Server-Timing header value.
func (t *Timings) ServerTiming() string {
	if t == nil {
		return ""
	}
	parts := make([]string, 0, len(Phases))
	for _, e := range t.entries() {
		parts = append(parts, fmt.Sprintf("%s;dur=%s", e.phase, formatMs(e.ms)))
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON writes the recorded phases in milliseconds, in phase order.
func (t *Timings) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t.entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(string(e.phase)))
		buf.WriteByte(':')
		buf.WriteString(formatMs(e.ms))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func formatMs(ms float64) string {
	return strconv.FormatFloat(ms, 'f', -1, 64)
}

type contextKey struct{}

// WithTimings returns a context carrying t.
func WithTimings(ctx context.Context, t *Timings) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the timings of ctx, or nil.
func FromContext(ctx context.Context) *Timings {
	t, _ := ctx.Value(contextKey{}).(*Timings)
	return t
}
