package outreachsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLaunchSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/campaigns" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("context") != "launch week" || r.FormValue("max_messages") != "3" || r.FormValue("base_delay") != "2m0s" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		if _, ok := r.MultipartForm.Value["proxy"]; ok {
			t.Errorf("empty fields should be omitted")
		}
		f, hdr, err := r.FormFile("targets")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "list.csv" || string(data) != "username\nalice\n" {
			t.Errorf("unexpected upload %s %q", hdr.Filename, data)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"run": map[string]any{"id": "r1", "status": "running"}, "targets": 1})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	res, err := c.Launch(context.Background(), "list.csv", strings.NewReader("username\nalice\n"), LaunchOptions{
		Context:     "launch week",
		MaxMessages: 3,
		BaseDelay:   2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if res.Run.ID != "r1" || res.Targets != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"code":"campaign_running","message":"a campaign is already running"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Launch(context.Background(), "l.csv", strings.NewReader("username\na\n"), LaunchOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.Busy() || apiErr.Code != "campaign_running" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestOutcomesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v0/outcomes" || q.Get("run_id") != "r1" || q.Get("cursor") != "9" || q.Get("limit") != "2" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items":       []map[string]any{{"id": 8, "action": "contacted", "recipient": "alice", "ts": "2024-01-01 10:00:00"}},
			"next_cursor": 8,
		})
	}))
	defer srv.Close()

	page, err := New(srv.URL).Outcomes(context.Background(), OutcomeQuery{RunID: "r1", Cursor: 9, Limit: 2})
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Recipient != "alice" || page.NextCursor != 8 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestDevLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["subject"] != "operator" {
			t.Errorf("unexpected body %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "minted"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.DevLogin(context.Background(), "operator"); err != nil {
		t.Fatalf("dev login: %v", err)
	}
	if c.BearerToken != "minted" {
		t.Fatalf("token not stored: %q", c.BearerToken)
	}
}
