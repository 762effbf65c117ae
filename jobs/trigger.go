package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/flowledger/flowledger/internal/observability"
)

// Trigger calls back into the API server for jobs that operate on its
// in-memory state. The queue and notification log live in the API
// process, so the worker drives them over HTTP instead of sharing state.
type Trigger struct {
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (t *Trigger) do(ctx context.Context, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return nil
}

func (t *Trigger) observe(task string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if t.Metrics != nil {
		t.Metrics.ObserveJob(task, outcome)
	}
}
