package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finsight/finsight/internal/common/config"
	"github.com/finsight/finsight/internal/common/logger"
	"github.com/finsight/finsight/internal/events/bus"
	"github.com/finsight/finsight/internal/progress/repository"
	"github.com/finsight/finsight/internal/relay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

// setupRelay wires a full relay server backed by an in-memory bus and
// repository, relaying from the given upstream base URL.
func setupRelay(t *testing.T, upstreamURL string) (*httptest.Server, *relay.Service) {
	t.Helper()
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	repo := repository.NewMemoryRepository()

	svc := relay.NewService(eventBus, repo, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("failed to start service: %v", err)
	}

	upstream := relay.NewUpstream(config.UpstreamConfig{BaseURL: upstreamURL, HeaderTimeout: 5}, log)

	router := gin.New()
	SetupRoutes(router.Group("/api"), svc, upstream, log)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		svc.Stop()
		eventBus.Close()
	})
	return server, svc
}

func TestPublishProgress_SucceedsWithoutSubscribers(t *testing.T) {
	server, _ := setupRelay(t, "http://localhost:0")

	resp, err := http.Post(server.URL+"/api/progress/abc123", "application/json", strings.NewReader(`{"type":"test"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body PublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !body.Success {
		t.Error("expected success=true")
	}
}

func TestPublishProgress_EmptyBody(t *testing.T) {
	server, _ := setupRelay(t, "http://localhost:0")

	resp, err := http.Post(server.URL+"/api/progress/abc123", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for empty body, got %d", resp.StatusCode)
	}
}

func TestStreamProgress_ForwardsUpstreamChunks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/progress/sess-1" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("expected SSE accept header, got %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"step\":1}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"step\":2}\n\n")
		flusher.Flush()
	}))
	defer upstream.Close()

	server, _ := setupRelay(t, upstream.URL)

	resp, err := http.Get(server.URL + "/api/progress/sess-1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Errorf("expected text/event-stream, got %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("expected no-cache, got %q", got)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	want := "data: {\"step\":1}\n\ndata: {\"step\":2}\n\n"
	if string(body) != want {
		t.Errorf("expected verbatim chunk forwarding:\nwant %q\ngot  %q", want, body)
	}
}

func TestStreamProgress_UpstreamErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer upstream.Close()

	server, _ := setupRelay(t, upstream.URL)

	resp, err := http.Get(server.URL + "/api/progress/missing")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected upstream status to pass through, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected an error field in the response body")
	}
}

func TestStreamProgress_UpstreamUnreachable(t *testing.T) {
	// Point at a server that is already closed
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	server, _ := setupRelay(t, dead.URL)

	resp, err := http.Get(server.URL + "/api/progress/sess-1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 for unreachable upstream, got %d", resp.StatusCode)
	}
}

func TestStreamProgress_BroadcastsPublishedEvents(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	server, svc := setupRelay(t, upstream.URL)

	resp, err := http.Get(server.URL + "/api/progress/sess-1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	// The handler registers its subscriber just after flushing headers; wait
	// for the registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for svc.SubscriberCount("sess-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never registered a subscriber")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := svc.PublishEvent(context.Background(), "sess-1", []byte(`{"type":"test"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	type readResult struct {
		data string
		err  error
	}
	got := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 256)
		n, err := resp.Body.Read(buf)
		got <- readResult{data: string(buf[:n]), err: err}
	}()

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("read failed: %v", r.err)
		}
		if r.data != "data: {\"type\":\"test\"}\n\n" {
			t.Errorf("expected SSE framed broadcast, got %q", r.data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast never reached the stream")
	}
}

func TestStreamProgress_ClientDisconnectClosesUpstream(t *testing.T) {
	upstreamDone := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(upstreamDone)
	}))
	defer upstream.Close()

	server, _ := setupRelay(t, upstream.URL)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/progress/sess-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	cancel()

	select {
	case <-upstreamDone:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream connection survived client disconnect")
	}
}

func TestListLogs_WithDurations(t *testing.T) {
	server, svc := setupRelay(t, "http://localhost:0")
	ctx := context.Background()

	entries := []string{
		`{"level":"info","message":"loading prices","timestamp":1712345670000}`,
		`{"level":"success","message":"prices loaded","timestamp":1712345675000}`,
	}
	for i, e := range entries {
		if err := svc.PublishEvent(ctx, "sess-1", []byte(e)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		// Keep arrival order deterministic across async bus dispatch
		waitForLogCount(t, svc, "sess-1", i+1)
	}

	resp, err := http.Get(server.URL + "/api/progress/sess-1/logs")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Total != 2 {
		t.Fatalf("expected 2 entries, got %d", body.Total)
	}
	if body.Logs[0].Duration != "5s" {
		t.Errorf("expected 5s duration on first entry, got %q", body.Logs[0].Duration)
	}
	if body.Logs[1].Duration != "" {
		t.Errorf("expected no label on the last idle entry, got %q", body.Logs[1].Duration)
	}
}

// waitForLogCount polls until the session history holds at least n entries.
func waitForLogCount(t *testing.T, svc *relay.Service, sessionID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		logs, err := svc.Logs(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(logs) >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected at least %d entries, got %d", n, len(logs))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClearLogs(t *testing.T) {
	server, svc := setupRelay(t, "http://localhost:0")
	ctx := context.Background()

	if err := svc.PublishEvent(ctx, "sess-1", []byte(`{"level":"info","message":"x","timestamp":1712345670000}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitForLogCount(t, svc, "sess-1", 1)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/progress/sess-1/logs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	logs, err := svc.Logs(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected empty history after clear, got %d", len(logs))
	}
}

func TestListSessions(t *testing.T) {
	server, svc := setupRelay(t, "http://localhost:0")
	ctx := context.Background()

	if err := svc.PublishEvent(ctx, "sess-1", []byte(`{"level":"info","message":"x","timestamp":1712345670000}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitForLogCount(t, svc, "sess-1", 1)

	resp, err := http.Get(server.URL + "/api/progress")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body SessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Total != 1 || len(body.Sessions) != 1 || body.Sessions[0] != "sess-1" {
		t.Errorf("unexpected sessions response: %+v", body)
	}
}
