package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"outreach/internal/app"
	"outreach/internal/campaign"
	"outreach/internal/config"
	"outreach/internal/domain"
	"outreach/internal/repo"
)

type fakeSession struct{}

func (fakeSession) Resolve(_ context.Context, h string) (domain.RecipientIdentity, error) {
	return domain.RecipientIdentity{ID: "id-" + h, Handle: h}, nil
}
func (fakeSession) Send(context.Context, string, string) error { return nil }
func (fakeSession) Sender() string                             { return "campaign_account" }
func (fakeSession) Close() error                               { return nil }

// sqliteDialer records outcomes in the launcher's own store so the outcome
// routes see them.
type sqliteDialer struct{ store *repo.Store }

func (d sqliteDialer) DialStore(context.Context) (campaign.HistoryStore, error) {
	return nopClose{d.store}, nil
}
func (sqliteDialer) DialSession(context.Context) (campaign.Session, error) { return fakeSession{}, nil }

type nopClose struct{ *repo.Store }

func (nopClose) Close() error { return nil }

type gateGenerator struct{ gate chan struct{} }

func (g gateGenerator) Generate(ctx context.Context, h string, _ domain.ProfileSummary, c string) (string, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "Hi " + h + ", quick note about " + c, nil
}

type testServer struct {
	URL      string
	launcher *app.Launcher
	client   *http.Client
	close    func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, secret string, gen campaign.ContentGenerator) (*testServer, func()) {
	t.Helper()
	store, err := repo.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	launcher := &app.Launcher{
		Store:        store,
		Sleep:        func(context.Context, time.Duration) error { return nil },
		NewDialer:    func(*config.Config) campaign.Dialer { return sqliteDialer{store: store} },
		NewGenerator: func(context.Context, *config.Config) (campaign.ContentGenerator, error) { return gen, nil },
	}
	base := config.Default()
	base.Messaging.BaseURL = "http://gateway.invalid"
	base.Messaging.SessionID = "sess"
	base.Generator.APIKey = "key"
	runCtx, cancelRuns := context.WithCancel(context.Background())
	handler, err := New(Config{
		Launcher:   launcher,
		Base:       base,
		BasePath:   "/v0",
		UploadDir:  t.TempDir(),
		Auth:       AuthConfig{JWTSecret: secret},
		RunContext: runCtx,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:      "http://" + ln.Addr().String(),
		launcher: launcher,
		client:   &http.Client{},
		close: func() {
			cancelRuns()
			launcher.Wait()
			srv.Shutdown(context.Background())
			ln.Close()
			store.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(t, client, req)
}

func doLaunch(t *testing.T, client *http.Client, url string, fields map[string]string, csv string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if csv != "" {
		fw, err := mw.CreateFormFile("targets", "list.csv")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		io.WriteString(fw, csv)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url+"/v0/campaigns", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(t, client, req)
}

func do(t *testing.T, client *http.Client, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestLaunchRecordsRun(t *testing.T) {
	srv, cleanup := newTestServer(t, "", gateGenerator{})
	defer cleanup()
	client := srv.Client()

	res, data := doLaunch(t, client, srv.URL, map[string]string{
		"context":      "our design meetup",
		"max_messages": "5",
		"base_delay":   "1",
	}, "Username,Full Name\nalice,Alice\n@bob,Bob\n,\n", nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("launch status %d: %s", res.StatusCode, string(data))
	}
	var launched LaunchResponse
	if err := json.Unmarshal(data, &launched); err != nil {
		t.Fatalf("unmarshal launch: %v", err)
	}
	if launched.Targets != 2 {
		t.Fatalf("expected 2 targets, got %d", launched.Targets)
	}
	if len(launched.Warnings) != 1 {
		t.Fatalf("expected base delay warning, got %v", launched.Warnings)
	}
	srv.launcher.Wait()

	runRes, runBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/"+launched.Run.ID, nil, nil)
	if runRes.StatusCode != http.StatusOK {
		t.Fatalf("get run status %d: %s", runRes.StatusCode, string(runBody))
	}
	var detail RunDetailResponse
	if err := json.Unmarshal(runBody, &detail); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if detail.Run.Status != "completed" || detail.Run.Summary.Sent != 2 {
		t.Fatalf("unexpected run %+v", detail.Run)
	}
	if detail.Counts["contacted"] != 2 {
		t.Fatalf("expected 2 contacted, got %v", detail.Counts)
	}
	if len(detail.Events) != 2 {
		t.Fatalf("expected start and completion events, got %d", len(detail.Events))
	}

	outRes, outBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/outcomes?limit=1&run_id="+launched.Run.ID, nil, nil)
	if outRes.StatusCode != http.StatusOK {
		t.Fatalf("outcomes status %d: %s", outRes.StatusCode, string(outBody))
	}
	var page OutcomeListResponse
	if err := json.Unmarshal(outBody, &page); err != nil {
		t.Fatalf("unmarshal outcomes: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor == 0 {
		t.Fatalf("expected one item and a cursor, got %+v", page)
	}
	if page.Items[0].Sender != "campaign_account" {
		t.Fatalf("unexpected sender %q", page.Items[0].Sender)
	}

	runsRes, runsBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs", nil, nil)
	if runsRes.StatusCode != http.StatusOK {
		t.Fatalf("runs status %d: %s", runsRes.StatusCode, string(runsBody))
	}
	var runs RunListResponse
	_ = json.Unmarshal(runsBody, &runs)
	if len(runs.Items) != 1 {
		t.Fatalf("expected one run, got %d", len(runs.Items))
	}
}

func TestLaunchRejectsWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	srv, cleanup := newTestServer(t, "", gateGenerator{gate: gate})
	defer cleanup()
	client := srv.Client()
	fields := map[string]string{"context": "launch week"}

	res, data := doLaunch(t, client, srv.URL, fields, "username\nalice\n", nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("first launch %d: %s", res.StatusCode, string(data))
	}

	curRes, curBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/campaigns/current", nil, nil)
	if curRes.StatusCode != http.StatusOK {
		t.Fatalf("current status %d: %s", curRes.StatusCode, string(curBody))
	}
	var cur CurrentResponse
	_ = json.Unmarshal(curBody, &cur)
	if !cur.Active || cur.Run == nil || cur.Run.InputName != "list.csv" {
		t.Fatalf("expected active run, got %+v", cur)
	}

	second, body := doLaunch(t, client, srv.URL, fields, "username\nbob\n", nil)
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", second.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "campaign_running" {
		t.Fatalf("unexpected code %q", code)
	}
	close(gate)
	srv.launcher.Wait()

	curRes, curBody = doJSON(t, client, http.MethodGet, srv.URL+"/v0/campaigns/current", nil, nil)
	_ = json.Unmarshal(curBody, &cur)
	if curRes.StatusCode != http.StatusOK || cur.Active {
		t.Fatalf("expected idle, got %d %s", curRes.StatusCode, string(curBody))
	}
}

func TestLaunchValidation(t *testing.T) {
	srv, cleanup := newTestServer(t, "", gateGenerator{})
	defer cleanup()
	client := srv.Client()

	cases := []struct {
		name   string
		fields map[string]string
		csv    string
		code   string
	}{
		{"missing file", map[string]string{"context": "x"}, "", "bad_request"},
		{"missing context", map[string]string{}, "username\na\n", "bad_request"},
		{"bad csv type", map[string]string{"context": "x", "csv_type": "emails"}, "username\na\n", "bad_request"},
		{"bad max", map[string]string{"context": "x", "max_messages": "-1"}, "username\na\n", "bad_request"},
		{"no handle column", map[string]string{"context": "x"}, "email\na@b.c\n", "invalid_targets"},
		{"no usable rows", map[string]string{"context": "x"}, "username\n\n", "no_targets"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doLaunch(t, client, srv.URL, tc.fields, tc.csv, nil)
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
			}
			if code := errorCode(t, data); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
	if _, ok := srv.launcher.Current(); ok {
		t.Fatalf("no run should be active")
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv, cleanup := newTestServer(t, "", gateGenerator{})
	defer cleanup()

	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if len(bodies[i]) == 0 || !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("request %d returned a different document", i)
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(bodies[0], &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc["paths"]; !ok {
		t.Fatalf("openapi document has no paths")
	}
}

func TestRunNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, "", gateGenerator{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, "test-secret", gateGenerator{})
	defer cleanup()
	client := srv.Client()

	health, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if health.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d %s", health.StatusCode, string(body))
	}

	denied, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs", nil, nil)
	if denied.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", denied.StatusCode, string(body))
	}
	bad, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs", nil, map[string]string{"Authorization": "Bearer nope"})
	if bad.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", bad.StatusCode, string(body))
	}

	loginRes, loginBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"subject": "operator"}, nil)
	if loginRes.StatusCode != http.StatusOK {
		t.Fatalf("dev login %d: %s", loginRes.StatusCode, string(loginBody))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(loginBody, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	ok, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("authorized request %d: %s", ok.StatusCode, string(body))
	}
}

func TestDevLoginDisabledWithoutSecret(t *testing.T) {
	srv, cleanup := newTestServer(t, "", gateGenerator{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"subject": "x"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestSignDevTokenRoundTrip(t *testing.T) {
	now := time.Now()
	token, exp, err := signDevToken("s3cret", "operator", time.Minute, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expiry %v not after %v", exp, now)
	}
	p, err := authenticateJWT(token, "s3cret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.Subject != "operator" || p.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, err := authenticateJWT(token, "other"); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, "test-secret", gateGenerator{})
	defer cleanup()
	client := srv.Client()

	_, plain, err := srv.launcher.Store.CreateAPIKey(context.Background(), "scheduler")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	ok, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/campaigns/current", nil, map[string]string{"X-Api-Key": plain})
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("api key request %d: %s", ok.StatusCode, string(body))
	}
	bad, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/campaigns/current", nil, map[string]string{"X-Api-Key": "ok_nope"})
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", bad.StatusCode, string(body))
	}

	res, data := doLaunch(t, client, srv.URL, map[string]string{"context": "x"}, "username\na\n", map[string]string{"X-Api-Key": plain})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("launch with api key %d: %s", res.StatusCode, string(data))
	}
	srv.launcher.Wait()
}
