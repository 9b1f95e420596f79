package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/chamada/internal/attendance"
	"github.com/example/chamada/internal/config"
	"github.com/example/chamada/internal/database"
	"github.com/example/chamada/internal/matcher"
	"github.com/example/chamada/internal/repository"
)

// eventLog records the order in which request handling and shutdown steps
// complete.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// blockingExtractor holds Extract until release is closed.
type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	events  *eventLog
}

func (b *blockingExtractor) Extract(ctx context.Context, image []byte, contentType string) (matcher.Embedding, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	b.events.add("capture extracted")
	return matcher.Embedding{0, 0}, nil
}

func integrationConfig() *config.Config {
	return &config.Config{
		Env:      "development",
		LogLevel: "error",
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "file:integration_shutdown?mode=memory&cache=shared",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		JWT:        config.JWTConfig{Secret: "integration-secret", TTL: time.Hour},
		Matcher:    config.MatcherConfig{Threshold: matcher.DefaultThreshold, DuplicateThreshold: matcher.DefaultThreshold, Dimension: 2},
		Attendance: config.AttendanceConfig{SessionTTL: time.Hour, SweepInterval: time.Hour},
	}
}

func TestServerDrainsCaptureBeforeReleasingResources(t *testing.T) {
	logger := zap.NewNop()
	cfg := integrationConfig()
	events := &eventLog{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Open(ctx, cfg.Database, cfg.LogLevel, logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	repo := repository.New(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	ext := &blockingExtractor{started: make(chan struct{}), release: make(chan struct{}), events: events}
	defer func() {
		select {
		case <-ext.release:
		default:
			close(ext.release)
		}
	}()

	a, err := newApp(cfg, logger, repo, attendance.NewMemoryStore(time.Hour), ext)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.scheduler.Start()

	var steps []shutdownStep
	for _, step := range shutdownSequence(a.scheduler, func() error { return nil }, nil) {
		step := step
		steps = append(steps, shutdownStep{name: step.name, run: func() error {
			err := step.run()
			events.add(step.name)
			return err
		}})
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: a.router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 5*time.Second, logger, listener, signalCh, steps)
	}()

	addr := listener.Addr().String()
	baseURL := "http://" + addr
	waitForServer(t, addr)

	client := &http.Client{Timeout: 5 * time.Second}
	_, body := postJSON(t, client, baseURL+"/api/register", "", map[string]string{
		"nome": "Ana", "email": "ana@escola.br", "senha": "s3nha", "instituicao": "EE",
	}, http.StatusCreated)
	token, _ := body["token"].(string)

	postJSON(t, client, baseURL+"/api/alunoregister", token, map[string]any{
		"nome": "Joao", "turma": "6A", "faceData": []float64{0, 0},
	}, http.StatusCreated)

	_, body = postJSON(t, client, baseURL+"/api/chamadas", token, nil, http.StatusCreated)
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("no session id in %v", body)
	}

	type result struct {
		status int
		body   map[string]any
		err    error
	}
	captured := make(chan result, 1)
	go func() {
		req := newCaptureRequest(t, baseURL+"/api/chamadas/"+sessionID+"/captura", token)
		resp, err := client.Do(req)
		if err != nil {
			captured <- result{err: err}
			return
		}
		defer resp.Body.Close()
		decoded := map[string]any{}
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
		captured <- result{status: resp.StatusCode, body: decoded}
	}()

	select {
	case <-ext.started:
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not reach the extractor in time")
	}

	signalCh <- syscall.SIGTERM
	waitForListenerClosed(t, addr)
	close(ext.release)

	select {
	case res := <-captured:
		if res.err != nil {
			t.Fatalf("capture failed: %v", res.err)
		}
		if res.status != http.StatusOK || res.body["status"] != "present" {
			t.Fatalf("unexpected capture response: %d %v", res.status, res.body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	want := []string{"capture extracted", "scheduler", "presence store"}
	got := events.snapshot()
	if len(got) != len(want) {
		t.Fatalf("unexpected shutdown order: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected shutdown order: %v", got)
		}
	}
}

func TestServeRunsShutdownStepsWhenServingFails(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	listener.Close()

	var ran []string
	steps := []shutdownStep{
		{name: "first", run: func() error { ran = append(ran, "first"); return nil }},
		{name: "second", run: func() error { ran = append(ran, "second"); return io.ErrClosedPipe }},
	}

	err = serveHTTPServerWithOptions(&http.Server{}, time.Second, zap.NewNop(), listener, make(chan os.Signal), steps)
	if err == nil {
		t.Fatal("expected serve error")
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("steps did not all run in order: %v", ran)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected step failure in result, got %v", err)
	}
}

func TestShutdownSequenceOrder(t *testing.T) {
	conn, err := grpc.Dial("127.0.0.1:1", grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	a, err := newApp(integrationConfig(), zap.NewNop(), nil, attendance.NewMemoryStore(time.Hour), nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	steps := shutdownSequence(a.scheduler, func() error { return nil }, conn)
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.name)
	}
	want := []string{"scheduler", "presence store", "extractor connection"}
	if len(names) != len(want) {
		t.Fatalf("unexpected steps: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected steps: %v", names)
		}
	}
	if err := runShutdown(steps, zap.NewNop()); err != nil {
		t.Fatalf("run shutdown: %v", err)
	}

	if got := shutdownSequence(nil, nil, nil); len(got) != 0 {
		t.Fatalf("expected no steps for absent resources, got %d", len(got))
	}
}

func postJSON(t *testing.T, client *http.Client, url, token string, payload any, wantStatus int) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: expected %d, got %d (%v)", url, wantStatus, resp.StatusCode, decoded)
	}
	return resp, decoded
}

func newCaptureRequest(t *testing.T, url, token string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="frame.png"`)
	header.Set("Content-Type", "image/png")
	part, err := w.CreatePart(header)
	if err != nil {
		t.Errorf("create part: %v", err)
	}
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nframe"))
	_ = w.Close()

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Errorf("new request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}

// waitForListenerClosed returns once the server stops accepting connections.
func waitForListenerClosed(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return
		}
		conn.Close()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s kept accepting connections after the signal", addr)
}
