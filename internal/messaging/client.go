// Package messaging is the HTTP client for the messaging gateway. The gateway
// owns the platform session; this package only resolves handles, sends
// direct messages, and maps gateway failures onto campaign.ServiceError.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"outreach/internal/campaign"
	"outreach/internal/domain"
)

// Gateway error codes that carry meaning beyond the HTTP status.
const (
	CodeChallengeRequired  = "challenge_required"
	CodeCheckpointRequired = "checkpoint_required"
	CodeLoginRequired      = "login_required"
	CodeCannotMessage      = "cannot_message"
)

type Options struct {
	BaseURL   string
	SessionID string
	// Proxy is an optional http(s) or socks5 URL for all gateway traffic.
	Proxy   string
	Timeout time.Duration
	Logger  *zap.Logger
}

type Client struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
	log        *zap.Logger
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("messaging base url is required")
	}
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, fmt.Errorf("messaging session id is required")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		sessionID:  opts.SessionID,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		log:        log,
	}, nil
}

// errorBody is the gateway error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error: status=%d code=%s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("gateway error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(endpoint, "/"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Id", c.sessionID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return campaign.NewServiceError(campaign.KindUnknown, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return classify(op, resp, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &campaign.ServiceError{Kind: campaign.KindUnknown, Op: op, Status: resp.StatusCode,
				Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// classify maps a gateway failure onto the structured error shape using only
// the status and the machine-readable code.
func classify(op string, resp *http.Response, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: eb.Error.Code, Body: strings.TrimSpace(string(body))}
	se := campaign.NewServiceError(campaign.KindUnknown, op, apiErr)
	se.Status = resp.StatusCode
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		se.Kind = campaign.KindRateLimited
		se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case eb.Error.Code == CodeChallengeRequired || eb.Error.Code == CodeCheckpointRequired:
		se.Kind = campaign.KindChallengeRequired
	case resp.StatusCode == http.StatusUnauthorized || eb.Error.Code == CodeLoginRequired:
		se.Kind = campaign.KindSessionInvalid
	case resp.StatusCode == http.StatusNotFound || eb.Error.Code == CodeCannotMessage:
		se.Kind = campaign.KindNotFound
	case resp.StatusCode == http.StatusForbidden:
		se.Kind = campaign.KindSessionInvalid
	}
	return se
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Zero means no hint.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

type account struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	Biography     string `json:"biography"`
	FollowerCount int64  `json:"follower_count"`
}

// Me returns the account the session is logged in as.
func (c *Client) Me(ctx context.Context) (string, error) {
	var me account
	if err := c.do(ctx, "session", http.MethodGet, "me", nil, &me); err != nil {
		return "", err
	}
	if me.Username == "" {
		return "", &campaign.ServiceError{Kind: campaign.KindSessionInvalid, Op: "session",
			Err: errors.New("gateway returned no username for the session")}
	}
	return me.Username, nil
}

func (c *Client) Resolve(ctx context.Context, handle string) (domain.RecipientIdentity, error) {
	var acct account
	if err := c.do(ctx, "resolve", http.MethodGet, "users/"+url.PathEscape(handle), nil, &acct); err != nil {
		return domain.RecipientIdentity{}, err
	}
	return domain.RecipientIdentity{
		ID:     acct.ID,
		Handle: acct.Username,
		Profile: domain.ProfileSummary{
			FullName:      acct.FullName,
			Biography:     acct.Biography,
			FollowerCount: acct.FollowerCount,
		},
	}, nil
}

func (c *Client) Send(ctx context.Context, recipientID, text string) error {
	body := map[string]any{
		"recipient_ids": []string{recipientID},
		"text":          text,
	}
	return c.do(ctx, "send", http.MethodPost, "direct/messages", body, nil)
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
