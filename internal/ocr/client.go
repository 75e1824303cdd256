package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	submitPath = "/api/recognition/submit"
	checkPath  = "/api/recognition/check"

	defaultClientTimeout = 30 * time.Second
)

// Client talks to a remote recognition service over HTTP JSON.
//
// The service exposes two endpoints: a submit endpoint accepting one line
// image per call and a check endpoint reporting the status of a batch of
// task IDs. Authentication is a bearer token when one is configured.
//
// Client is stateless apart from its configuration and is safe for
// concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient creates a recognition client for the service at baseURL.
// A non-positive timeout falls back to 30 seconds.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Submit enqueues one line image with the remote service.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.post(ctx, submitPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// checkRequest is the body of a status poll.
type checkRequest struct {
	TaskIDs []string `json:"taskIds"`
}

// Check reports the status of the given task IDs.
func (c *Client) Check(ctx context.Context, taskIDs []string) (*CheckResponse, error) {
	var resp CheckResponse
	if err := c.post(ctx, checkPath, checkRequest{TaskIDs: taskIDs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends a JSON request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("unexpected status %d from %s: %s",
			res.StatusCode, path, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}
