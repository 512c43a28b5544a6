package outreachsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Outreach HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// RunSummary holds the counters of one run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Available  int    `json:"available"`
	Attempted  int    `json:"attempted"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DurationMs int64  `json:"duration_ms"`
	Aborted    bool   `json:"aborted"`
	FatalCause string `json:"fatal_cause,omitempty"`
}

// Run is a campaign run as stored by the server.
type Run struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	InputName  string     `json:"input_name,omitempty"`
	Context    string     `json:"context"`
	StartedAt  string     `json:"started_at"`
	FinishedAt *string    `json:"finished_at,omitempty"`
	Summary    RunSummary `json:"summary"`
}

// Event is a run lifecycle entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Payload string `json:"payload_json"`
}

// Outcome is one contacted or failed record.
type Outcome struct {
	ID          int64  `json:"id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Action      string `json:"action"`
	Sender      string `json:"sender,omitempty"`
	Recipient   string `json:"recipient"`
	RecipientID string `json:"recipient_id,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
	Context     string `json:"context,omitempty"`
	Timestamp   string `json:"ts"`
}

type Active struct {
	RunID     string `json:"run_id"`
	InputName string `json:"input_name,omitempty"`
	Available int    `json:"available"`
	StartedAt string `json:"started_at"`
}

type Current struct {
	Active bool    `json:"active"`
	Run    *Active `json:"run,omitempty"`
}

type RunDetail struct {
	Run    Run            `json:"run"`
	Counts map[string]int `json:"counts"`
	Events []Event        `json:"events"`
}

type OutcomePage struct {
	Items      []Outcome `json:"items"`
	NextCursor int64     `json:"next_cursor,omitempty"`
}

// LaunchOptions are the form fields of a launch. Zero values keep the
// server's configured defaults.
type LaunchOptions struct {
	Context        string
	SessionID      string
	Proxy          string
	CSVType        string
	FilterKeywords string
	MaxMessages    int
	BaseDelay      time.Duration
}

type LaunchResult struct {
	Run      Run      `json:"run"`
	Targets  int      `json:"targets"`
	Warnings []string `json:"warnings,omitempty"`
}

// OutcomeQuery filters Outcomes.
type OutcomeQuery struct {
	RunID     string
	Recipient string
	Action    string
	Cursor    int64
	Limit     int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Busy reports whether the server refused a launch because a run is active.
func (e *APIError) Busy() bool { return e.StatusCode == http.StatusTooManyRequests }

// Launch uploads a target list and starts a campaign.
func (c *Client) Launch(ctx context.Context, filename string, targets io.Reader, opts LaunchOptions) (LaunchResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"context":         opts.Context,
		"session_id":      opts.SessionID,
		"proxy":           opts.Proxy,
		"csv_type":        opts.CSVType,
		"filter_keywords": opts.FilterKeywords,
	}
	if opts.MaxMessages > 0 {
		fields["max_messages"] = strconv.Itoa(opts.MaxMessages)
	}
	if opts.BaseDelay > 0 {
		fields["base_delay"] = opts.BaseDelay.String()
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return LaunchResult{}, err
		}
	}
	fw, err := mw.CreateFormFile("targets", filename)
	if err != nil {
		return LaunchResult{}, err
	}
	if _, err := io.Copy(fw, targets); err != nil {
		return LaunchResult{}, err
	}
	if err := mw.Close(); err != nil {
		return LaunchResult{}, err
	}
	var resp LaunchResult
	err = c.send(ctx, http.MethodPost, "campaigns", mw.FormDataContentType(), &buf, &resp)
	return resp, err
}

// Current returns the active run, if any.
func (c *Client) Current(ctx context.Context) (Current, error) {
	var resp Current
	err := c.do(ctx, http.MethodGet, "campaigns/current", nil, &resp)
	return resp, err
}

// Runs lists recent runs.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	endpoint := "runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Run `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Run fetches one run with its outcome counts and events.
func (c *Client) Run(ctx context.Context, id string) (RunDetail, error) {
	var resp RunDetail
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Outcomes returns a page of outcome records, newest first.
func (c *Client) Outcomes(ctx context.Context, q OutcomeQuery) (OutcomePage, error) {
	v := url.Values{}
	if q.RunID != "" {
		v.Set("run_id", q.RunID)
	}
	if q.Recipient != "" {
		v.Set("recipient", q.Recipient)
	}
	if q.Action != "" {
		v.Set("action", q.Action)
	}
	if q.Cursor > 0 {
		v.Set("cursor", strconv.FormatInt(q.Cursor, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint := "outcomes"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp OutcomePage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// DevLogin mints a development token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, subject string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"subject": subject}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
