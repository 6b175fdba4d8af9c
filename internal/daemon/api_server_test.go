package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"resonate/internal/config"
	"resonate/internal/core"
	"resonate/internal/dispatch"
	"resonate/internal/providers"
	"resonate/internal/reconcile"
	"resonate/internal/services/audioinfo"
	"resonate/internal/services/catalog"
	"resonate/internal/sweeper"
	"resonate/internal/tasks"
	"resonate/internal/testsupport"
)

type stubResolver struct{}

func (stubResolver) Resolve(context.Context, string) (*catalog.VoiceModel, error) {
	return &catalog.VoiceModel{VoiceID: "voice-1", DownloadURL: "https://models.example.com/v.zip", BasePitch: 200}, nil
}

type stubCharger struct{}

func (stubCharger) Charge(context.Context, *tasks.Task) (*audioinfo.Analysis, error) {
	return &audioinfo.Analysis{DurationSeconds: 60, PitchMean: 180}, nil
}

type stubSubmitter struct{}

func (stubSubmitter) Kind() providers.Kind { return providers.KindPrediction }

func (stubSubmitter) Submit(_ context.Context, req providers.SubmitRequest) (string, error) {
	return "job-" + req.TaskID, nil
}

func (stubSubmitter) Poll(context.Context, string) (*providers.Notification, error) {
	return nil, errors.New("not implemented")
}

type stubStorage struct{}

func (stubStorage) Store(_ context.Context, _, filename, _ string) (string, error) {
	return "https://cdn.example.com/public/" + filename, nil
}

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *tasks.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)

	dispatcher := dispatch.NewDispatcher(store, stubResolver{}, stubCharger{}, stubSubmitter{}, "", nil)
	reconciler := reconcile.NewReconciler(store, stubStorage{}, nil, nil)
	service := core.NewService(store, dispatcher, reconciler, nil)
	sw := sweeper.New(store, nil, reconciler, dispatcher, time.Hour, time.Hour, nil)

	d, err := New(cfg, store, service, sw, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, store, cfg
}

func testServer(t *testing.T, d *Daemon) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(d.api.server.Handler)
	t.Cleanup(server.Close)
	return server
}

func TestAPIServerCreateAndFetchTask(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := testServer(t, d)

	body := `{"owner_id":"owner-1","source_url":"https://cdn.example.com/in.wav","target_voice_id":"voice-1"}`
	resp, err := http.Post(server.URL+"/api/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var created tasks.Public
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected task id in response")
	}

	d.Service().Wait()

	getResp, err := http.Get(server.URL + "/api/tasks/" + created.ID)
	if err != nil {
		t.Fatalf("GET /api/tasks/{id}: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}

	var fetched tasks.Public
	if err := json.NewDecoder(getResp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if fetched.Status != tasks.StatusProcessing {
		t.Fatalf("expected processing after pipeline, got %s", fetched.Status)
	}
	if fetched.Progress != 100 {
		t.Fatalf("expected progress 100 while processing, got %d", fetched.Progress)
	}
}

func TestAPIServerValidationMapsToBadRequest(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := testServer(t, d)

	resp, err := http.Post(server.URL+"/api/tasks", "application/json",
		strings.NewReader(`{"owner_id":"","source_url":"https://x/in.wav","target_voice_id":"v"}`))
	if err != nil {
		t.Fatalf("POST /api/tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAPIServerUnknownTaskIsNotFound(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := testServer(t, d)

	resp, err := http.Get(server.URL + "/api/tasks/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAPIServerAuthGuardsOperatorEndpoints(t *testing.T) {
	d, _, _ := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = "sekrit"
	})
	server := testServer(t, d)

	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/status", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer sekrit")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", authed.StatusCode)
	}
}

func TestAPIServerWebhookSettlesTaskWithoutToken(t *testing.T) {
	d, store, _ := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = "sekrit"
	})
	server := testServer(t, d)

	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	task = testsupport.AdvanceTask(t, store, task,
		tasks.StatusInit, tasks.StatusPitchAnalysis, tasks.StatusDispatched, tasks.StatusProcessing)

	payload := fmt.Sprintf(`{"id":%q,"status":"succeeded","output":"https://backend.example.com/tmp/out.wav"}`, task.ProviderJobID)
	resp, err := http.Post(server.URL+"/api/webhooks/prediction/"+task.ID, "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	loaded, err := store.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded.Status != tasks.StatusCompleted {
		t.Fatalf("expected completed, got %s", loaded.Status)
	}
}

func TestAPIServerStampsRequestID(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := testServer(t, d)

	first, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	first.Body.Close()
	firstID := first.Header.Get("X-Request-ID")
	if firstID == "" {
		t.Fatal("expected a correlation id on the response")
	}

	second, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	second.Body.Close()
	if second.Header.Get("X-Request-ID") == firstID {
		t.Fatal("expected a fresh correlation id per request")
	}
}

func TestAPIServerWebhookUnknownProvider(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	server := testServer(t, d)

	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	resp, err := http.Post(server.URL+"/api/webhooks/mainframe/"+task.ID, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown provider, got %d", resp.StatusCode)
	}
}
