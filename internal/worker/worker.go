package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cwygoda/skim/internal/domain"
	"github.com/cwygoda/skim/internal/extract"
	"github.com/cwygoda/skim/internal/queue"
)

// Deps are the collaborators of a Worker. Detector may be nil.
type Deps struct {
	Queue      *queue.Queue
	Summarizer domain.Summarizer
	Items      domain.ItemRepository
	Notifier   domain.Notifier
	Detector   domain.LanguageDetector
	Logger     *slog.Logger
}

// Options tune job processing.
type Options struct {
	MinTextLength int
	SnippetLength int
	// JobTimeout bounds one inference call. Zero disables the deadline.
	JobTimeout time.Duration
}

// Worker accepts submissions and processes queued jobs one at a time.
type Worker struct {
	queue      *queue.Queue
	summarizer domain.Summarizer
	items      domain.ItemRepository
	notifier   domain.Notifier
	detector   domain.LanguageDetector
	logger     *slog.Logger
	opts       Options

	wake chan struct{}

	mu         sync.Mutex
	processing bool
	inFlight   *domain.Job
}

// New creates a worker. Call Run to start processing.
func New(deps Deps, opts Options) *Worker {
	q := deps.Queue
	if q == nil {
		q = queue.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = domain.DefaultSnippetLength
	}
	return &Worker{
		queue:      q,
		summarizer: deps.Summarizer,
		items:      deps.Items,
		notifier:   deps.Notifier,
		detector:   deps.Detector,
		logger:     logger,
		opts:       opts,
		wake:       make(chan struct{}, 1),
	}
}

// SubmitRequest is a page handed in for summarization. HTML is only used
// when Text is empty.
type SubmitRequest struct {
	UserID int64
	URL    string
	Title  string
	Text   string
	HTML   string
}

// SubmitResult tells whether the job was queued.
type SubmitResult struct {
	Accepted bool
	Reason   string
}

// Submit validates and enqueues a job. It never waits for processing.
// A job whose key is already queued or running is not an error; the result
// carries Accepted false and the reason.
func (w *Worker) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	job := domain.Job{
		URL:    strings.TrimSpace(req.URL),
		UserID: req.UserID,
		Title:  strings.TrimSpace(req.Title),
		Text:   extract.Normalize(req.Text),
	}

	if job.Text == "" && strings.TrimSpace(req.HTML) != "" {
		article, err := extract.FromHTML(job.URL, req.HTML)
		if err != nil {
			w.logger.Debug("html extraction failed", "url", job.URL, "error", err)
		} else {
			job.Text = article.Text
			if job.Title == "" {
				job.Title = article.Title
			}
		}
	}

	if err := job.Validate(); err != nil {
		return SubmitResult{}, err
	}

	if err := w.queue.Push(job); err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			w.logger.Info("duplicate submission", "url", job.URL, "user_id", job.UserID)
			return SubmitResult{Accepted: false, Reason: domain.ErrDuplicateJob.Error()}, nil
		}
		return SubmitResult{}, err
	}

	w.logger.Info("job queued", "url", job.URL, "user_id", job.UserID, "queue_length", w.queue.Len())
	w.signal()
	return SubmitResult{Accepted: true}, nil
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Status is a point-in-time view of the processor.
type Status struct {
	Processing  bool
	QueueLength int
	InFlight    *domain.Job
}

// Status reports whether a job is running and how many are waiting.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{Processing: w.processing, QueueLength: w.queue.Len()}
	if w.inFlight != nil {
		job := *w.inFlight
		s.InFlight = &job
	}
	return s
}

// Run processes jobs until ctx is cancelled. Jobs still queued at that point
// are dropped.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "dropped", w.queue.Len())
			return
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// drain runs queued jobs back to back until the queue is empty.
func (w *Worker) drain(ctx context.Context) {
	w.mu.Lock()
	if w.processing || w.queue.Len() == 0 {
		w.mu.Unlock()
		return
	}
	w.processing = true
	w.mu.Unlock()

	w.notifier.Broadcast(domain.StatusEvent(true, w.queue.Len()))

	for ctx.Err() == nil {
		w.mu.Lock()
		job, ok := w.queue.Pop()
		if ok {
			w.inFlight = &job
		}
		w.mu.Unlock()
		if !ok {
			break
		}

		item, err := w.process(ctx, job)

		w.mu.Lock()
		w.inFlight = nil
		w.mu.Unlock()
		w.queue.Done(job.Key())

		if err != nil {
			w.notifier.SendToUser(job.UserID, domain.ErrorEvent(job, err))
			continue
		}
		w.notifier.SendToUser(job.UserID, domain.CompleteEvent(item))
	}

	w.mu.Lock()
	w.processing = false
	w.mu.Unlock()

	w.notifier.Broadcast(domain.StatusEvent(false, w.queue.Len()))
}

// process runs one job to completion. The returned item is already stored.
func (w *Worker) process(ctx context.Context, job domain.Job) (*domain.SavedItem, error) {
	start := time.Now()
	log := w.logger.With("url", job.URL, "user_id", job.UserID)

	w.notifier.SendToUser(job.UserID, domain.QueuedEvent(job))

	if n := utf8.RuneCountInString(job.Text); n < w.opts.MinTextLength {
		err := fmt.Errorf("%w: text has %d characters, need at least %d", domain.ErrInsufficientContent, n, w.opts.MinTextLength)
		log.Warn("job rejected", "error", err)
		return nil, err
	}

	jobCtx := ctx
	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}

	summary, err := w.summarizer.Summarize(jobCtx, job.Text, func(percent int) {
		w.notifier.SendToUser(job.UserID, domain.ProgressEvent(job, percent))
	})
	if err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		log.Error("job failed", "error", err, "duration", time.Since(start))
		return nil, err
	}

	var language string
	if w.detector != nil {
		language = w.detector.Detect(job.Text)
	}

	item, err := w.items.CreateItem(ctx, domain.NewSavedItem(job, summary, w.opts.SnippetLength, language))
	if err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		log.Error("saving item failed", "error", err)
		return nil, err
	}

	log.Info("job completed", "item_id", item.ID, "duration", time.Since(start))
	return item, nil
}
