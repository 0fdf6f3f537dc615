package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// JobStatus represents the processing state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobKey identifies a job for deduplication.
type JobKey struct {
	URL    string
	UserID int64
}

func (k JobKey) String() string {
	return fmt.Sprintf("%d:%s", k.UserID, k.URL)
}

// Job is one pending summarization request. Jobs live only in memory.
type Job struct {
	URL    string
	UserID int64
	Title  string
	Text   string
}

// Key returns the deduplication key of the job.
func (j Job) Key() JobKey {
	return JobKey{URL: j.URL, UserID: j.UserID}
}

// DisplayTitle falls back to the URL when the page had no title.
func (j Job) DisplayTitle() string {
	if t := strings.TrimSpace(j.Title); t != "" {
		return t
	}
	return j.URL
}

// Validate checks the fields required to queue the job.
func (j Job) Validate() error {
	if j.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(j.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	u, err := url.ParseRequestURI(j.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", ErrValidation, j.URL)
	}
	if strings.TrimSpace(j.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}
	return nil
}
