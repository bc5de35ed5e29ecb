package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/apperrors"
)

// RunStatus is the lifecycle state reported for a submitted run.
type RunStatus string

const (
	RunQueued    RunStatus = "Queued"
	RunRunning   RunStatus = "Running"
	RunSucceeded RunStatus = "Succeeded"
	RunFailed    RunStatus = "Failed"
	RunCancelled RunStatus = "Cancelled"
)

// Terminal reports whether the run has finished, successfully or not.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// Deployer submits a generated program to the orchestration service and
// reports run progress. Failures surface verbatim; submission is never
// retried here.
type Deployer interface {
	Submit(ctx context.Context, code string) (string, error)
	PollStatus(ctx context.Context, runID string) (RunStatus, error)
}

type httpDeployer struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPDeployer creates a deployer against a factory REST endpoint.
func NewHTTPDeployer(endpoint, token string, logger *zap.Logger) Deployer {
	return &httpDeployer{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.Named("deployer"),
	}
}

var _ Deployer = (*httpDeployer)(nil)

type submitRequest struct {
	Program string `json:"program"`
}

type submitResponse struct {
	RunID string `json:"run_id"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (d *httpDeployer) Submit(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(submitRequest{Program: code})
	if err != nil {
		return "", fmt.Errorf("%w: encode submission: %v", apperrors.ErrDeployment, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/runs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build submission request: %v", apperrors.ErrDeployment, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submit run: %v", apperrors.ErrDeployment, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: submission rejected with status %d: %s",
			apperrors.ErrDeployment, resp.StatusCode, string(payload))
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode submission response: %v", apperrors.ErrDeployment, err)
	}
	if parsed.RunID == "" {
		return "", fmt.Errorf("%w: submission response missing run id", apperrors.ErrDeployment)
	}

	d.logger.Info("run submitted", zap.String("run_id", parsed.RunID))
	return parsed.RunID, nil
}

func (d *httpDeployer) PollStatus(ctx context.Context, runID string) (RunStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/runs/"+runID, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build status request: %v", apperrors.ErrDeployment, err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: poll run %s: %v", apperrors.ErrDeployment, runID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status poll for run %s returned %d",
			apperrors.ErrDeployment, runID, resp.StatusCode)
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode status response: %v", apperrors.ErrDeployment, err)
	}
	status := RunStatus(parsed.Status)
	if status == RunFailed && parsed.Error != "" {
		// The service's own failure text travels with the status; the
		// caller reports it unchanged.
		return status, fmt.Errorf("%w: run %s failed: %s", apperrors.ErrDeployment, runID, parsed.Error)
	}
	return status, nil
}

// WaitForRun polls until the run reaches a terminal state or the
// timeout elapses.
func WaitForRun(ctx context.Context, deployer Deployer, runID string, interval, timeout time.Duration, logger *zap.Logger) (RunStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := deployer.PollStatus(ctx, runID)
		if err != nil {
			return status, err
		}
		logger.Debug("run status", zap.String("run_id", runID), zap.String("status", string(status)))
		if status.Terminal() {
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, fmt.Errorf("%w: run %s still %s after %s",
				apperrors.ErrDeployment, runID, status, timeout)
		}
		select {
		case <-ctx.Done():
			return status, fmt.Errorf("%w: %v", apperrors.ErrDeployment, ctx.Err())
		case <-ticker.C:
		}
	}
}

// MockDeployer is a test double with function fields and call counters.
type MockDeployer struct {
	SubmitFunc     func(ctx context.Context, code string) (string, error)
	PollStatusFunc func(ctx context.Context, runID string) (RunStatus, error)

	SubmitCalls     int
	PollStatusCalls int
	SubmittedCode   []string
}

var _ Deployer = (*MockDeployer)(nil)

// NewMockDeployer returns a deployer that accepts every submission and
// reports immediate success.
func NewMockDeployer() *MockDeployer {
	return &MockDeployer{}
}

func (m *MockDeployer) Submit(ctx context.Context, code string) (string, error) {
	m.SubmitCalls++
	m.SubmittedCode = append(m.SubmittedCode, code)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, code)
	}
	return uuid.NewString(), nil
}

func (m *MockDeployer) PollStatus(ctx context.Context, runID string) (RunStatus, error) {
	m.PollStatusCalls++
	if m.PollStatusFunc != nil {
		return m.PollStatusFunc(ctx, runID)
	}
	return RunSucceeded, nil
}

// Reset clears recorded calls.
func (m *MockDeployer) Reset() {
	m.SubmitCalls = 0
	m.PollStatusCalls = 0
	m.SubmittedCode = nil
}
