// Package health checks the backend's HTTP health endpoint.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type State int

const (
	Unknown State = iota
	Healthy
	Unhealthy
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	}
	return "unknown"
}

// Result is the outcome of one check.
type Result struct {
	State   State
	Detail  string
	Latency time.Duration
	Checked time.Time
}

// report is the backend's /health body:
// {"db": "connected", "background_service": "active"} or {"db": "error", "error": "..."}.
type report struct {
	DB                string `json:"db"`
	BackgroundService string `json:"background_service"`
	Error             string `json:"error"`
}

type Client struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{},
	}
}

// Check performs one request. It never returns an error; failures are
// reported as Unhealthy with the reason in Detail.
func (p *Client) Check(ctx context.Context) Result {
	start := time.Now()
	result := func(state State, format string, args ...interface{}) Result {
		return Result{
			State:   state,
			Detail:  fmt.Sprintf(format, args...),
			Latency: time.Since(start),
			Checked: start,
		}
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return result(Unhealthy, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return result(Unhealthy, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result(Unhealthy, "status %s", resp.Status)
	}

	var body report
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return result(Unhealthy, "decode body: %v", err)
	}

	if body.DB != "connected" {
		if body.Error != "" {
			return result(Unhealthy, "db %s: %s", body.DB, body.Error)
		}
		return result(Unhealthy, "db %q", body.DB)
	}
	return result(Healthy, "db connected, background service %s", body.BackgroundService)
}
