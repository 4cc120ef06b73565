// Package kfp is a small client for the Kubeflow Pipelines v1beta1 REST API.
package kfp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("kfp resource not found")
	ErrAlreadyExists = errors.New("kfp resource already exists")
	ErrUnauthorized  = errors.New("kfp request unauthorized")
	ErrForbidden     = errors.New("kfp request forbidden")
	ErrTimeout       = errors.New("kfp run did not finish in time")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("kfp api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("kfp api error (status=%d): %s", e.StatusCode, body)
}

const basePath = "/apis/v1beta1"

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets host, for example http://localhost:8080. A nil
// httpClient gets a plain client with a 15s timeout.
func NewClient(host string, httpClient *http.Client) (*Client, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, errors.New("kfp host is required")
	}
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid kfp host %q", host)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: host, http: httpClient}, nil
}

func (c *Client) Host() string { return c.baseURL }

func (c *Client) Healthz(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+basePath+"/healthz", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) CreateExperiment(ctx context.Context, name string) (Experiment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Experiment{}, errors.New("experiment name is required")
	}
	var out Experiment
	if err := c.post(ctx, "/experiments", Experiment{Name: name}, &out); err != nil {
		return Experiment{}, err
	}
	return out, nil
}

// GetExperiment finds an experiment by exact name.
func (c *Client) GetExperiment(ctx context.Context, name string) (Experiment, error) {
	filter, err := json.Marshal(map[string]any{
		"predicates": []map[string]any{{"key": "name", "op": "EQUALS", "string_value": name}},
	})
	if err != nil {
		return Experiment{}, err
	}
	q := url.Values{}
	q.Set("filter", string(filter))
	q.Set("page_size", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+basePath+"/experiments?"+q.Encode(), nil)
	if err != nil {
		return Experiment{}, err
	}
	var out listExperimentsResponse
	if err := c.do(req, &out); err != nil {
		return Experiment{}, err
	}
	if len(out.Experiments) == 0 {
		return Experiment{}, fmt.Errorf("%w: experiment %q", ErrNotFound, name)
	}
	return out.Experiments[0], nil
}

// EnsureExperiment returns the experiment with the given name, creating it
// when it does not exist yet.
func (c *Client) EnsureExperiment(ctx context.Context, name string) (Experiment, error) {
	exp, err := c.GetExperiment(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Experiment{}, err
	}
	return c.CreateExperiment(ctx, name)
}

func (c *Client) CreateRun(ctx context.Context, name, experimentID string, spec PipelineSpec) (Run, error) {
	run := Run{Name: name, PipelineSpec: spec}
	if experimentID != "" {
		run.ResourceReferences = experimentOwner(experimentID)
	}
	var out runDetail
	if err := c.post(ctx, "/runs", run, &out); err != nil {
		return Run{}, err
	}
	return out.Run, nil
}

func (c *Client) CreateRecurringRun(ctx context.Context, name, experimentID string, spec PipelineSpec, schedule PeriodicSchedule, catchup bool) (Job, error) {
	if schedule.IntervalSecond <= 0 {
		return Job{}, errors.New("interval_second must be positive")
	}
	job := Job{
		Name:               name,
		PipelineSpec:       spec,
		ResourceReferences: experimentOwner(experimentID),
		MaxConcurrency:     10,
		Trigger:            Trigger{PeriodicSchedule: schedule},
		Enabled:            true,
		NoCatchup:          !catchup,
	}
	var out Job
	if err := c.post(ctx, "/jobs", job, &out); err != nil {
		return Job{}, err
	}
	return out, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Run{}, errors.New("run id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+basePath+"/runs/"+url.PathEscape(id), nil)
	if err != nil {
		return Run{}, err
	}
	var out runDetail
	if err := c.do(req, &out); err != nil {
		return Run{}, err
	}
	return out.Run, nil
}

// WaitForRunCompletion polls the run until it finishes or timeout elapses.
func (c *Client) WaitForRunCompletion(ctx context.Context, id string, timeout, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return Run{}, fmt.Errorf("%w: %s", ErrTimeout, id)
			}
			return Run{}, err
		}
		if run.Finished() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, fmt.Errorf("%w: %s", ErrTimeout, id)
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+basePath+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode kfp response: %w", err)
		}
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}
