package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/domain"
	"github.com/tablepilot/tablepilot/pkg/sandbox"
)

// Executor implements sandbox.Executor against a session's runner container.
// The persistent scope lives inside the container; this side only tracks the
// unread chart and the dataset waiting to be uploaded.
type Executor struct {
	manager   *Manager
	sessionID string

	mu       sync.Mutex
	ds       *dataset.Dataset
	uploaded bool
	chart    *domain.Chart
	closed   bool
}

var _ sandbox.Executor = (*Executor)(nil)

type executeRequest struct {
	Code string `json:"code"`
}

type executeResponse struct {
	Output string        `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
	Chart  *domain.Chart `json:"chart,omitempty"`
}

// Bind stages the dataset for upload. The upload happens on the next Execute
// so that transport failures surface through the execution path.
func (e *Executor) Bind(ds *dataset.Dataset) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ds = ds
	e.uploaded = false
}

// TakeChart returns the unread chart, if any, and clears it.
func (e *Executor) TakeChart() *domain.Chart {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.chart
	e.chart = nil
	return c
}

// Close stops the session's container.
func (e *Executor) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.manager.Stop(context.Background(), e.sessionID)
}

// Execute ships the code to the runner and maps its reply onto an Outcome.
// Only the transport timeout bounds the run; there is no preemptive
// cancellation of code already executing in the container.
func (e *Executor) Execute(ctx context.Context, code string) (*domain.Outcome, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("executor is closed")
	}
	ds, uploaded := e.ds, e.uploaded
	e.mu.Unlock()

	if ds == nil {
		return &domain.Outcome{Err: "Error: No dataset bound. Upload a dataset before running analysis."}, nil
	}

	base, err := e.manager.baseURL(ctx, e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("runner not available for session %s: %w", e.sessionID, err)
	}

	if !uploaded {
		if err := e.uploadDataset(ctx, base, ds); err != nil {
			return nil, fmt.Errorf("uploading dataset: %w", err)
		}
	}

	body, err := json.Marshal(executeRequest{Code: code})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.manager.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing in runner: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runner returned status %d", resp.StatusCode)
	}

	var result executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding runner response: %w", err)
	}

	outcome := &domain.Outcome{
		Output: result.Output,
		Chart:  result.Chart,
		Err:    result.Error,
	}
	if result.Chart != nil {
		e.mu.Lock()
		e.chart = result.Chart
		e.mu.Unlock()
	}
	return outcome, nil
}

// uploadDataset pushes the staged dataset to the runner once per bind.
func (e *Executor) uploadDataset(ctx context.Context, base string, ds *dataset.Dataset) error {
	var buf bytes.Buffer
	if err := ds.WriteCSV(&buf); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/dataset?name="+url.QueryEscape(ds.Name()), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/csv")

	resp, err := e.manager.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runner returned status %d", resp.StatusCode)
	}

	e.mu.Lock()
	if e.ds == ds {
		e.uploaded = true
	}
	e.mu.Unlock()
	return nil
}
