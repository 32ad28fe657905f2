package api

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lassestilvang/code-migration-autopilot/internal/auth"
	"github.com/lassestilvang/code-migration-autopilot/internal/events"
	"github.com/lassestilvang/code-migration-autopilot/internal/export/local"
	"github.com/lassestilvang/code-migration-autopilot/internal/llm"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/quota"
	"github.com/lassestilvang/code-migration-autopilot/internal/source"
	"github.com/lassestilvang/code-migration-autopilot/internal/workflow"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
)

// cannedModel answers by prompt kind.
type cannedModel struct{}

func (cannedModel) Generate(_ context.Context, req llm.Request) (string, error) {
	p := req.Prompt
	switch {
	case strings.Contains(p, "Analyze the following source code"):
		return `{"summary":"counter","complexity":"Low"}`, nil
	case strings.Contains(p, "Convert the following"):
		return "export default function Counter() {}", nil
	case strings.Contains(p, "QA Engineer"):
		return `{"passed":true,"issues":[]}`, nil
	case strings.Contains(p, "legacy repository"):
		return `{"summary":"todo","complexity":"Low","detectedFramework":"jQuery"}`, nil
	case strings.Contains(p, "List every file"):
		return `["app/page.tsx","package.json"]`, nil
	case strings.Contains(p, "Write the complete contents"):
		return "// file", nil
	}
	return "", errors.New("unexpected prompt")
}

type testEnv struct {
	server  *httptest.Server
	manager *workflow.Manager
	auth    *auth.Auth
	export  string
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	return newLimitedTestEnv(t, secret, 0)
}

func newLimitedTestEnv(t *testing.T, secret string, rateLimit int) *testEnv {
	t.Helper()
	root := t.TempDir()
	backend, err := local.New(local.Config{RootPath: root, CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}

	b := events.NewBroadcaster()
	engine := workflow.NewEngine(llm.NewAgent(cannedModel{}, nil), source.Sample{}, nil, workflow.Options{})
	manager := workflow.NewManager(engine, b, backend, 10)
	a := auth.New(secret)
	srv := NewServer(manager, nil, a, b)
	srv.SetRateLimiter(quota.NewRateLimiter(rateLimit))
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})
	return &testEnv{server: ts, manager: manager, auth: a, export: root}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) wait(t *testing.T, id string) *workflow.Run {
	t.Helper()
	run, err := e.manager.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", id)
	}
	return run
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	var resp protocol.HealthResponse
	if code := env.do(t, "GET", "/health", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Status != "ok" || resp.Runs != 0 {
		t.Errorf("health = %+v", resp)
	}
}

func TestLanguages(t *testing.T) {
	env := newTestEnv(t, "")
	var resp protocol.LanguagesResponse
	if code := env.do(t, "GET", "/api/v1/languages", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Languages) != 13 {
		t.Errorf("%d languages, want 13", len(resp.Languages))
	}
}

func TestSnippetFlow(t *testing.T) {
	env := newTestEnv(t, "")

	var started protocol.RunResponse
	code := env.do(t, "POST", "/api/v1/snippets", protocol.SnippetRequest{SourceCode: "$('#a').hide()"}, &started)
	if code != http.StatusAccepted {
		t.Fatalf("status = %d", code)
	}
	if started.ID == "" || started.Mode != protocol.ModeSnippet {
		t.Fatalf("started = %+v", started)
	}
	env.wait(t, started.ID)

	var run protocol.RunResponse
	if code := env.do(t, "GET", "/api/v1/runs/"+started.ID, nil, &run); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if run.Status != models.AgentCompleted || run.TargetCode != "export default function Counter() {}" {
		t.Errorf("run = %+v", run)
	}

	var logs protocol.LogsResponse
	env.do(t, "GET", "/api/v1/runs/"+started.ID+"/logs", nil, &logs)
	if len(logs.Logs) == 0 || logs.Logs[len(logs.Logs)-1].Level != models.LogSuccess {
		t.Errorf("logs = %+v", logs.Logs)
	}

	var list []protocol.RunResponse
	env.do(t, "GET", "/api/v1/runs", nil, &list)
	if len(list) != 1 {
		t.Errorf("list = %d runs", len(list))
	}

	var errResp protocol.ErrorResponse
	if code := env.do(t, "GET", "/api/v1/runs/"+started.ID+"/tree", nil, &errResp); code != http.StatusNotFound {
		t.Errorf("snippet tree status = %d", code)
	}
}

func TestRepoFlow(t *testing.T) {
	env := newTestEnv(t, "")

	var started protocol.RunResponse
	if code := env.do(t, "POST", "/api/v1/repos", protocol.RepoRequest{URL: "https://github.com/acme/legacy"}, &started); code != http.StatusAccepted {
		t.Fatalf("status = %d", code)
	}
	run, _ := env.manager.Get(started.ID)
	deadline := time.Now().Add(5 * time.Second)
	for !run.AwaitingConfirm() {
		if time.Now().After(deadline) {
			t.Fatalf("run did not pause; status %s", run.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}

	var snap protocol.RunResponse
	env.do(t, "GET", "/api/v1/runs/"+started.ID, nil, &snap)
	if !snap.AwaitingConfirm || snap.Status != models.AgentPlanning || snap.RepoAnalysis == nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	var srcTree protocol.TreeResponse
	if code := env.do(t, "GET", "/api/v1/runs/"+started.ID+"/tree?side=source", nil, &srcTree); code != http.StatusOK {
		t.Fatalf("source tree status = %d", code)
	}
	if len(srcTree.Roots) == 0 || srcTree.Side != "source" {
		t.Errorf("source tree = %+v", srcTree)
	}

	if code := env.do(t, "POST", "/api/v1/runs/"+started.ID+"/confirm", nil, nil); code != http.StatusAccepted {
		t.Fatalf("confirm status = %d", code)
	}
	env.wait(t, started.ID)

	if code := env.do(t, "POST", "/api/v1/runs/"+started.ID+"/confirm", nil, nil); code != http.StatusConflict {
		t.Errorf("second confirm status = %d", code)
	}

	var target protocol.TreeResponse
	env.do(t, "GET", "/api/v1/runs/"+started.ID+"/tree", nil, &target)
	if target.Side != "target" || len(target.Roots) != 2 {
		t.Fatalf("target tree = %+v", target)
	}

	var file protocol.FileResponse
	if code := env.do(t, "GET", "/api/v1/runs/"+started.ID+"/files/app/page.tsx", nil, &file); code != http.StatusOK {
		t.Fatalf("file status = %d", code)
	}
	if file.Node.Status != models.StatusDone || file.Node.Content == nil || *file.Node.Content != "// file" {
		t.Errorf("file = %+v", file.Node)
	}

	resp, err := http.Get(env.server.URL + "/api/v1/runs/" + started.ID + "/files/app/page.tsx?raw=1")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(raw) != "// file" || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("raw = %q (%s)", raw, resp.Header.Get("Content-Type"))
	}

	if code := env.do(t, "GET", "/api/v1/runs/"+started.ID+"/files/missing.ts", nil, nil); code != http.StatusNotFound {
		t.Errorf("missing file status = %d", code)
	}
	if code := env.do(t, "GET", "/api/v1/runs/"+started.ID+"/tree?side=left", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad side status = %d", code)
	}

	var exp protocol.ExportResponse
	if code := env.do(t, "POST", "/api/v1/runs/"+started.ID+"/export", protocol.ExportRequest{Prefix: "out"}, &exp); code != http.StatusOK {
		t.Fatalf("export status = %d", code)
	}
	if exp.Backend != "local" || exp.Files != 2 || exp.Prefix != "out" {
		t.Errorf("export = %+v", exp)
	}
	if _, err := os.Stat(env.export + "/out/app/page.tsx"); err != nil {
		t.Errorf("exported file missing: %v", err)
	}
	if code := env.do(t, "POST", "/api/v1/runs/"+started.ID+"/export", protocol.ExportRequest{Prefix: "out"}, nil); code != http.StatusConflict {
		t.Errorf("repeat export status = %d", code)
	}
}

func TestTreeGzip(t *testing.T) {
	env := newTestEnv(t, "")
	var started protocol.RunResponse
	env.do(t, "POST", "/api/v1/repos", protocol.RepoRequest{URL: "github.com/acme/legacy", AutoConfirm: true}, &started)
	env.wait(t, started.ID)

	req, _ := http.NewRequest("GET", env.server.URL+"/api/v1/runs/"+started.ID+"/tree?side=source", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", resp.Header.Get("Content-Encoding"))
	}
	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var tr protocol.TreeResponse
	if err := json.NewDecoder(gr).Decode(&tr); err != nil {
		t.Fatal(err)
	}
	if len(tr.Roots) == 0 {
		t.Error("empty tree")
	}
}

func TestRequestErrors(t *testing.T) {
	env := newTestEnv(t, "")
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown run", "GET", "/api/v1/runs/nope", "", http.StatusNotFound},
		{"bad json", "POST", "/api/v1/snippets", "{", http.StatusBadRequest},
		{"bad repo url", "POST", "/api/v1/repos", `{"url":"github.com/acme"}`, http.StatusBadRequest},
		{"confirm unknown", "POST", "/api/v1/runs/nope/confirm", "", http.StatusNotFound},
		{"export unknown", "POST", "/api/v1/runs/nope/export", "", http.StatusNotFound},
		{"restart unknown", "POST", "/api/v1/runs/nope/restart", "", http.StatusNotFound},
		{"wrong method", "DELETE", "/api/v1/runs/nope", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, env.server.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCancelAndRestart(t *testing.T) {
	env := newTestEnv(t, "")
	var started protocol.RunResponse
	env.do(t, "POST", "/api/v1/repos", protocol.RepoRequest{URL: "github.com/acme/legacy"}, &started)
	run, _ := env.manager.Get(started.ID)
	for !run.AwaitingConfirm() {
		time.Sleep(5 * time.Millisecond)
	}

	if code := env.do(t, "POST", "/api/v1/runs/"+started.ID+"/restart", nil, nil); code != http.StatusConflict {
		t.Errorf("restart active status = %d", code)
	}

	var cancelled protocol.RunResponse
	if code := env.do(t, "POST", "/api/v1/runs/"+started.ID+"/cancel", nil, &cancelled); code != http.StatusOK {
		t.Fatalf("cancel status = %d", code)
	}
	if cancelled.Status != models.AgentError || cancelled.Error != workflow.ErrCancelled.Error() {
		t.Errorf("cancelled = %+v", cancelled)
	}

	if code := env.do(t, "POST", "/api/v1/runs/"+started.ID+"/restart", nil, nil); code != http.StatusAccepted {
		t.Fatalf("restart status = %d", code)
	}
	for !run.AwaitingConfirm() {
		time.Sleep(5 * time.Millisecond)
	}
	run.Cancel()
	env.wait(t, started.ID)
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t, "")
	var started protocol.RunResponse
	env.do(t, "POST", "/api/v1/repos", protocol.RepoRequest{URL: "github.com/acme/legacy"}, &started)

	resp, err := http.Get(env.server.URL + "/api/v1/runs/" + started.ID + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var types []string
	confirmed := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		typ := strings.TrimPrefix(line, "event: ")
		types = append(types, typ)
		if typ == events.EventConfirm && !confirmed {
			confirmed = true
			if err := env.manager.Confirm(started.ID); err != nil {
				t.Fatal(err)
			}
		}
	}

	joined := strings.Join(types, ",")
	if !confirmed || !strings.HasSuffix(joined, events.EventDone) || !strings.Contains(joined, events.EventFile) {
		t.Errorf("event types = %s", joined)
	}
}

func TestEventsFinishedRun(t *testing.T) {
	env := newTestEnv(t, "")
	var started protocol.RunResponse
	env.do(t, "POST", "/api/v1/snippets", protocol.SnippetRequest{SourceCode: "x"}, &started)
	env.wait(t, started.ID)

	resp, err := http.Get(env.server.URL + "/api/v1/runs/" + started.ID + "/events")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "event: done\n") {
		t.Errorf("body = %s", body)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, "secret")

	if code := env.do(t, "GET", "/health", nil, nil); code != http.StatusOK {
		t.Errorf("health status = %d", code)
	}
	if code := env.do(t, "GET", "/api/v1/languages", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", code)
	}

	token, err := env.auth.GenerateToken("cli", "", false, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest("GET", env.server.URL+"/api/v1/languages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d", resp.StatusCode)
	}
}

func TestLogLevelAdmin(t *testing.T) {
	defer logging.SetLevel(logging.Level())
	logging.SetLevel("info")
	env := newTestEnv(t, "secret")

	admin, _ := env.auth.GenerateToken("root", "", true, time.Hour)
	user, _ := env.auth.GenerateToken("dev", "", false, time.Hour)

	put := func(token, level string) int {
		t.Helper()
		body, _ := json.Marshal(protocol.LogLevel{Level: level})
		req, _ := http.NewRequest("PUT", env.server.URL+"/api/v1/admin/log-level", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := put(user, "debug"); code != http.StatusForbidden {
		t.Errorf("non-admin status = %d", code)
	}
	if logging.Level() != "info" {
		t.Errorf("level changed by non-admin: %s", logging.Level())
	}
	if code := put(admin, "shout"); code != http.StatusBadRequest {
		t.Errorf("bad level status = %d", code)
	}
	if code := put(admin, "debug"); code != http.StatusOK {
		t.Errorf("admin status = %d", code)
	}
	if logging.Level() != "debug" {
		t.Errorf("level = %s, want debug", logging.Level())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{workflow.ErrRunNotFound, http.StatusNotFound},
		{source.ErrInvalidURL, http.StatusBadRequest},
		{workflow.ErrRunActive, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRunStartsRateLimited(t *testing.T) {
	env := newLimitedTestEnv(t, "", 2)

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, "POST", "/api/v1/snippets", protocol.SnippetRequest{SourceCode: "x"}, nil))
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	// reads are not limited
	if code := env.do(t, "GET", "/api/v1/runs", nil, nil); code != http.StatusOK {
		t.Errorf("list status = %d", code)
	}
}

func TestStreamEventsEndsWhenRunDone(t *testing.T) {
	final := func() events.Event {
		return events.Event{Type: events.EventDone, RunID: "r1", Status: string(models.AgentCompleted)}
	}
	closed := make(chan struct{})
	close(closed)

	tests := []struct {
		name     string
		buffered []events.Event
		want     []string
	}{
		{
			name: "done event dropped",
			want: []string{"event: done"},
		},
		{
			name:     "log buffered, done dropped",
			buffered: []events.Event{{Type: events.EventLog, RunID: "r1", Message: "Writing files"}},
			want:     []string{"event: log", "event: done"},
		},
		{
			name: "done buffered",
			buffered: []events.Event{
				{Type: events.EventFile, RunID: "r1", Path: "app/page.tsx"},
				{Type: events.EventDone, RunID: "r1", Status: "error"},
			},
			want: []string{"event: file", "event: done"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan events.Event, len(tt.buffered))
			for _, e := range tt.buffered {
				ch <- e
			}
			rec := httptest.NewRecorder()

			finished := make(chan struct{})
			go func() {
				streamEvents(context.Background(), rec, rec, ch, closed, final)
				close(finished)
			}()
			select {
			case <-finished:
			case <-time.After(5 * time.Second):
				t.Fatal("stream did not end after the run finished")
			}

			var got []string
			sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
			for sc.Scan() {
				if strings.HasPrefix(sc.Text(), "event: ") {
					got = append(got, sc.Text())
				}
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("events = %v, want %v", got, tt.want)
			}
		})
	}
}
