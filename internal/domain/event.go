package domain

// EventType names a lifecycle message pushed to clients.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventProgress     EventType = "progress"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
	EventStatusUpdate EventType = "status_update"
)

// Event is the JSON envelope sent over the live channel.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// QueuedData is sent when a job leaves the queue and starts running.
type QueuedData struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type ProgressData struct {
	URL        string `json:"url"`
	Percentage int    `json:"percentage"`
}

type CompleteData struct {
	ID      int64  `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type ErrorData struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

type StatusData struct {
	IsProcessing bool `json:"isProcessing"`
	QueueLength  int  `json:"queueLength"`
}

func QueuedEvent(job Job) Event {
	return Event{Type: EventQueued, Data: QueuedData{URL: job.URL, Title: job.DisplayTitle()}}
}

func ProgressEvent(job Job, percent int) Event {
	return Event{Type: EventProgress, Data: ProgressData{URL: job.URL, Percentage: percent}}
}

func CompleteEvent(item *SavedItem) Event {
	return Event{Type: EventComplete, Data: CompleteData{
		ID:      item.ID,
		URL:     item.URL,
		Title:   item.Title,
		Summary: item.ExtractedSummary,
	}}
}

func ErrorEvent(job Job, err error) Event {
	return Event{Type: EventError, Data: ErrorData{URL: job.URL, Message: err.Error()}}
}

func StatusEvent(processing bool, queueLength int) Event {
	return Event{Type: EventStatusUpdate, Data: StatusData{IsProcessing: processing, QueueLength: queueLength}}
}
