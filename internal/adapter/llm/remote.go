package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cwygoda/skim/internal/config"
	"github.com/cwygoda/skim/internal/domain"
)

// Remote talks to an engine server (see the ai-server command) over HTTP.
type Remote struct {
	endpoint string
	apiKey   string
	http     *http.Client

	busy atomic.Bool
}

var _ domain.Summarizer = (*Remote)(nil)

// NewRemote creates a client for the engine server at ec.Endpoint.
func NewRemote(ec config.EngineConfig) (*Remote, error) {
	if ec.Endpoint == "" {
		return nil, fmt.Errorf("engine endpoint is required")
	}
	timeout := ec.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Remote{
		endpoint: strings.TrimRight(ec.Endpoint, "/"),
		apiKey:   ec.APIKey,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// Summarize posts text to the engine server. The server reports no
// intermediate progress, so callers see 0 and then 100.
func (c *Remote) Summarize(ctx context.Context, text string, progress domain.ProgressFunc) (string, error) {
	rep := newReporter(progress)
	defer rep.finish()

	if !c.busy.CompareAndSwap(false, true) {
		return "", domain.ErrEngineBusy
	}
	defer c.busy.Store(false)

	rep.report(0)

	body, err := json.Marshal(summarizeRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", domain.ErrInference, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/summarize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: new request: %v", domain.ErrInference, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: do request: %v", domain.ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: engine server %s: %s", domain.ErrInference, resp.Status, strings.TrimSpace(string(payload)))
	}

	var out summarizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrInference, err)
	}
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", fmt.Errorf("%w: engine server returned an empty summary", domain.ErrInference)
	}
	return summary, nil
}
