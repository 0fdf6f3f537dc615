package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/skim/internal/domain"
	"github.com/cwygoda/skim/internal/logging"
	"github.com/cwygoda/skim/internal/queue"
)

var longText = strings.Repeat("Plenty of readable words for the summarizer. ", 10)

// fakeSummarizer implements domain.Summarizer for testing.
type fakeSummarizer struct {
	fn func(ctx context.Context, text string, progress domain.ProgressFunc) (string, error)

	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32

	mu    sync.Mutex
	texts []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string, progress domain.ProgressFunc) (string, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(ctx, text, progress)
	}
	progress(0)
	progress(50)
	progress(100)
	return "A short summary.", nil
}

func (f *fakeSummarizer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// mockItems implements domain.ItemRepository for testing.
type mockItems struct {
	mu     sync.Mutex
	items  []domain.SavedItem
	nextID int64
	err    error
}

func (m *mockItems) CreateItem(ctx context.Context, item *domain.SavedItem) (*domain.SavedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.nextID++
	saved := *item
	saved.ID = m.nextID
	m.items = append(m.items, saved)
	return &saved, nil
}

func (m *mockItems) ListItems(ctx context.Context, userID int64, limit int) ([]domain.SavedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SavedItem
	for _, it := range m.items {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockItems) has(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id {
			return true
		}
	}
	return false
}

func (m *mockItems) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type sentEvent struct {
	userID    int64 // 0 for broadcasts
	event     domain.Event
	persisted bool
}

// recorder implements domain.Notifier and records every event.
type recorder struct {
	mu     sync.Mutex
	events []sentEvent
	items  *mockItems
}

func (r *recorder) SendToUser(userID int64, ev domain.Event) {
	persisted := false
	if c, ok := ev.Data.(domain.CompleteData); ok && r.items != nil {
		persisted = r.items.has(c.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{userID: userID, event: ev, persisted: persisted})
}

func (r *recorder) Broadcast(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{event: ev})
}

func (r *recorder) all() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.events...)
}

func (r *recorder) ofType(t domain.EventType) []sentEvent {
	var out []sentEvent
	for _, e := range r.all() {
		if e.event.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixedDetector string

func (d fixedDetector) Detect(string) string { return string(d) }

type harness struct {
	w     *Worker
	q     *queue.Queue
	sum   *fakeSummarizer
	items *mockItems
	rec   *recorder
}

func newHarness(t *testing.T, sum *fakeSummarizer, opts Options) *harness {
	t.Helper()
	if sum == nil {
		sum = &fakeSummarizer{}
	}
	if opts.MinTextLength == 0 {
		opts.MinTextLength = 150
	}
	items := &mockItems{}
	rec := &recorder{items: items}
	q := queue.New()
	w := New(Deps{
		Queue:      q,
		Summarizer: sum,
		Items:      items,
		Notifier:   rec,
		Detector:   fixedDetector("en"),
		Logger:     logging.Discard(),
	}, opts)
	return &harness{w: w, q: q, sum: sum, items: items, rec: rec}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) submit(t *testing.T, userID int64, url, text string) SubmitResult {
	t.Helper()
	res, err := h.w.Submit(context.Background(), SubmitRequest{UserID: userID, URL: url, Title: "Title " + url, Text: text})
	require.NoError(t, err)
	return res
}

// waitIdle blocks until n terminal events were sent and the idle status
// went out.
func (h *harness) waitIdle(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		events := h.rec.all()
		if len(events) == 0 {
			return false
		}
		done := len(h.rec.ofType(domain.EventComplete)) + len(h.rec.ofType(domain.EventError))
		last, ok := events[len(events)-1].event.Data.(domain.StatusData)
		return done >= n && ok && !last.IsProcessing
	}, 3*time.Second, 5*time.Millisecond)
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t, nil, Options{})

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing user", SubmitRequest{URL: "https://a.test/x", Text: longText}},
		{"missing url", SubmitRequest{UserID: 1, Text: longText}},
		{"relative url", SubmitRequest{UserID: 1, URL: "/x", Text: longText}},
		{"ftp url", SubmitRequest{UserID: 1, URL: "ftp://a.test/x", Text: longText}},
		{"missing text", SubmitRequest{UserID: 1, URL: "https://a.test/x", Text: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.w.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Equal(t, 0, h.q.Len())
}

func TestSubmit_Duplicate(t *testing.T) {
	h := newHarness(t, nil, Options{})

	first := h.submit(t, 1, "https://a.test/x", longText)
	assert.True(t, first.Accepted)

	dup := h.submit(t, 1, "https://a.test/x", longText)
	assert.Equal(t, SubmitResult{Accepted: false, Reason: "already queued"}, dup)

	// Same URL for another user is a different job.
	other := h.submit(t, 2, "https://a.test/x", longText)
	assert.True(t, other.Accepted)
	assert.Equal(t, 2, h.q.Len())
}

func TestSubmit_HTMLFallback(t *testing.T) {
	h := newHarness(t, nil, Options{})

	html := `<html><head><title>From Markup</title></head><body><p>` + longText + `</p></body></html>`
	res, err := h.w.Submit(context.Background(), SubmitRequest{UserID: 1, URL: "https://a.test/html", HTML: html})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	jobs := h.q.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "From Markup", jobs[0].Title)
	assert.Contains(t, jobs[0].Text, "Plenty of readable words")
}

func TestSubmit_NormalizesText(t *testing.T) {
	h := newHarness(t, nil, Options{})

	h.submit(t, 1, "https://a.test/ws", "  lots \t of   space \n\n\n here  ")
	jobs := h.q.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "lots of space\nhere", jobs[0].Text)
}

func TestWorker_HappyPath(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.run(t)

	res := h.submit(t, 7, "https://a.test/article", longText)
	require.True(t, res.Accepted)
	h.waitIdle(t, 1)

	var types []domain.EventType
	for _, e := range h.rec.all() {
		types = append(types, e.event.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventStatusUpdate,
		domain.EventQueued,
		domain.EventProgress,
		domain.EventProgress,
		domain.EventProgress,
		domain.EventComplete,
		domain.EventStatusUpdate,
	}, types)

	events := h.rec.all()
	assert.Equal(t, domain.StatusData{IsProcessing: true, QueueLength: 1}, events[0].event.Data)
	assert.Equal(t, domain.QueuedData{URL: "https://a.test/article", Title: "Title https://a.test/article"}, events[1].event.Data)
	assert.Equal(t, int64(7), events[1].userID)
	assert.Equal(t, domain.StatusData{IsProcessing: false, QueueLength: 0}, events[6].event.Data)

	complete := events[5]
	assert.Equal(t, int64(7), complete.userID)
	assert.True(t, complete.persisted, "complete sent before the item was stored")
	data := complete.event.Data.(domain.CompleteData)
	assert.Equal(t, "A short summary.", data.Summary)
	assert.Equal(t, "https://a.test/article", data.URL)

	items, err := h.items.ListItems(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, data.ID, items[0].ID)
	assert.Equal(t, "en", items[0].Language)
	assert.Equal(t, longText[:len(items[0].OriginalTextSnippet)], items[0].OriginalTextSnippet)
	assert.LessOrEqual(t, len([]rune(items[0].OriginalTextSnippet)), domain.DefaultSnippetLength)
}

func TestWorker_InsufficientContent(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.run(t)

	h.submit(t, 1, "https://a.test/short", "Too short to summarize.")
	h.submit(t, 1, "https://a.test/long", longText)
	h.waitIdle(t, 2)

	errs := h.rec.ofType(domain.EventError)
	require.Len(t, errs, 1)
	data := errs[0].event.Data.(domain.ErrorData)
	assert.Equal(t, "https://a.test/short", data.URL)
	assert.Contains(t, data.Message, "insufficient content")

	assert.Equal(t, int32(1), h.sum.calls.Load(), "adapter called for rejected text")
	assert.Len(t, h.rec.ofType(domain.EventComplete), 1)
	assert.Equal(t, 1, h.items.count())
}

func TestWorker_InferenceFailureAndResubmit(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	sum := &fakeSummarizer{fn: func(ctx context.Context, text string, progress domain.ProgressFunc) (string, error) {
		progress(100)
		if fail.Load() {
			return "", fmt.Errorf("%w: exit status 1", domain.ErrInference)
		}
		return "Second time lucky.", nil
	}}
	h := newHarness(t, sum, Options{})
	h.run(t)

	h.submit(t, 1, "https://a.test/flaky", longText)
	h.waitIdle(t, 1)

	errs := h.rec.ofType(domain.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].event.Data.(domain.ErrorData).Message, "inference failed")
	assert.Equal(t, 0, h.items.count())
	assert.Equal(t, int32(1), sum.calls.Load(), "failed job was retried")

	fail.Store(false)
	res := h.submit(t, 1, "https://a.test/flaky", longText)
	assert.True(t, res.Accepted, "failed key must be accepted again")
	h.waitIdle(t, 2)

	assert.Len(t, h.rec.ofType(domain.EventComplete), 1)
	assert.Equal(t, 1, h.items.count())
}

func TestWorker_PersistenceFailure(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.items.err = errors.New("disk full")
	h.run(t)

	h.submit(t, 1, "https://a.test/x", longText)
	h.waitIdle(t, 1)

	assert.Empty(t, h.rec.ofType(domain.EventComplete))
	errs := h.rec.ofType(domain.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].event.Data.(domain.ErrorData).Message, "persistence failed")
}

func TestWorker_Timeout(t *testing.T) {
	sum := &fakeSummarizer{fn: func(ctx context.Context, text string, progress domain.ProgressFunc) (string, error) {
		defer progress(100)
		if strings.HasPrefix(text, "slow") {
			<-ctx.Done()
			return "", fmt.Errorf("%w: killed", domain.ErrTimeout)
		}
		return "Fast summary.", nil
	}}
	h := newHarness(t, sum, Options{JobTimeout: 50 * time.Millisecond})
	h.run(t)

	h.submit(t, 1, "https://a.test/slow", "slow "+longText)
	h.submit(t, 1, "https://a.test/fast", longText)
	h.waitIdle(t, 2)

	errs := h.rec.ofType(domain.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "https://a.test/slow", errs[0].event.Data.(domain.ErrorData).URL)
	assert.Contains(t, errs[0].event.Data.(domain.ErrorData).Message, "timed out")

	completes := h.rec.ofType(domain.EventComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, "https://a.test/fast", completes[0].event.Data.(domain.CompleteData).URL)
}

func TestWorker_OneJobAtATimeInOrder(t *testing.T) {
	sum := &fakeSummarizer{fn: func(ctx context.Context, text string, progress domain.ProgressFunc) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	}}
	h := newHarness(t, sum, Options{})

	var want []string
	for i := 0; i < 5; i++ {
		text := strings.TrimSpace(fmt.Sprintf("job %d %s", i, longText))
		want = append(want, text)
		h.submit(t, 1, fmt.Sprintf("https://a.test/%d", i), text)
	}
	h.run(t)
	h.waitIdle(t, 5)

	assert.Equal(t, int32(1), sum.maxSeen.Load(), "more than one job in flight")
	assert.Equal(t, want, sum.seen())

	// One busy/idle pair for the whole batch.
	assert.Len(t, h.rec.ofType(domain.EventStatusUpdate), 2)
}

func TestWorker_StatusAndInFlightDedup(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sum := &fakeSummarizer{fn: func(ctx context.Context, text string, progress domain.ProgressFunc) (string, error) {
		started <- struct{}{}
		<-release
		return "done", nil
	}}
	h := newHarness(t, sum, Options{})
	h.run(t)

	h.submit(t, 1, "https://a.test/a", longText)
	<-started

	h.submit(t, 1, "https://a.test/b", longText)

	st := h.w.Status()
	assert.True(t, st.Processing)
	assert.Equal(t, 1, st.QueueLength)
	require.NotNil(t, st.InFlight)
	assert.Equal(t, "https://a.test/a", st.InFlight.URL)

	dup := h.submit(t, 1, "https://a.test/a", longText)
	assert.False(t, dup.Accepted, "in-flight key accepted twice")
	assert.Equal(t, "already queued", dup.Reason)

	close(release)
	<-started
	h.waitIdle(t, 2)

	st = h.w.Status()
	assert.False(t, st.Processing)
	assert.Nil(t, st.InFlight)
}
