package foundry

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

func newTestClient(t *testing.T) (*Client, *MockFoundryService) {
	t.Helper()
	service, host := getMockService(t)
	client := NewClient(host, logging.NewRecorder(logging.LevelTrace))
	t.Cleanup(func() { client.Close() })
	return client, service
}

func TestNewClient(t *testing.T) {
	client := NewClient("", nil)
	if client.apiHost != "http://localhost:5273" {
		t.Errorf("Expected default API host http://localhost:5273, got %s", client.apiHost)
	}
	if client.Endpoint() != "http://localhost:5273/v1" {
		t.Errorf("Unexpected endpoint %s", client.Endpoint())
	}
	if client.logger == nil {
		t.Error("Expected non-nil default logger")
	}

	client = NewClient("localhost:5678/", logging.NewRecorder(logging.LevelTrace))
	if client.apiHost != "http://localhost:5678" {
		t.Errorf("Expected normalized host, got %s", client.apiHost)
	}
}

func TestListModels(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	cached, err := client.ListCachedModels(ctx)
	if err != nil {
		t.Fatalf("ListCachedModels failed: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "phi-3.5-mini" || !cached[0].IsCached {
		t.Errorf("Unexpected cached models: %+v", cached)
	}

	catalog, err := client.ListCatalogModels(ctx)
	if err != nil {
		t.Fatalf("ListCatalogModels failed: %v", err)
	}
	var ids []string
	for _, m := range catalog {
		ids = append(ids, m.ID)
		if m.IsCached {
			t.Errorf("Catalog entry %s should not be marked cached", m.ID)
		}
	}
	want := []string{"phi-3.5-mini", "qwen2.5-0.5b", "mistral-7b"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Catalog order = %v, want %v", ids, want)
	}
	if catalog[2].DisplayName != "Mistral 7B" {
		t.Errorf("Unexpected display name %q", catalog[2].DisplayName)
	}
}

func TestDownload(t *testing.T) {
	client, service := newTestClient(t)
	ctx := context.Background()

	stream, err := client.Download(ctx, "qwen2.5-0.5b")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer stream.Close()

	var updates []DownloadProgress
	for {
		p, err := stream.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		updates = append(updates, p)
	}

	if len(updates) != 6 {
		t.Fatalf("Expected 6 progress updates, got %d: %+v", len(updates), updates)
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Percentage < updates[i-1].Percentage {
			t.Errorf("Progress went backwards at %d: %+v", i, updates)
		}
	}
	for _, p := range updates[:len(updates)-1] {
		if p.IsCompleted {
			t.Errorf("Only the final element may be completed: %+v", updates)
		}
	}
	if last := updates[len(updates)-1]; !last.IsCompleted || last.Percentage != 100 {
		t.Errorf("Unexpected final element %+v", last)
	}
	if _, err := stream.Recv(ctx); err != io.EOF {
		t.Errorf("Expected io.EOF after completion, got %v", err)
	}

	cached, _ := client.ListCachedModels(ctx)
	if len(cached) != 2 {
		t.Errorf("Expected model to be cached after download, got %+v", cached)
	}
	if service.DownloadCalls() != 1 {
		t.Errorf("Expected 1 download call, got %d", service.DownloadCalls())
	}
}

func TestDownloadUnknownModel(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	stream, err := client.Download(ctx, "nope")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	_, err = stream.Recv(ctx)
	if !errors.Is(err, apperr.ErrModelDownload) {
		t.Fatalf("Expected ErrModelDownload, got %v", err)
	}
	// the failure is sticky
	if _, err2 := stream.Recv(ctx); err2 != err {
		t.Errorf("Expected the same error again, got %v", err2)
	}
}

func TestLoad(t *testing.T) {
	client, service := newTestClient(t)
	ctx := context.Background()

	model, err := client.Load(ctx, "phi-3.5-mini", 5*time.Second)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := ActiveModel{
		ModelID:           "phi-3.5-mini",
		DisplayName:       "Phi-3.5 Mini",
		Endpoint:          client.Endpoint(),
		InstanceReference: "inst-phi-3.5-mini",
	}
	if model != want {
		t.Errorf("Load() = %+v, want %+v", model, want)
	}

	again, err := client.Load(ctx, "phi-3.5-mini", 5*time.Second)
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if again.InstanceReference != want.InstanceReference {
		t.Errorf("Unexpected second load result %+v", again)
	}
	if service.LoadCalls() != 1 {
		t.Errorf("Expected an already loaded model not to be reloaded, got %d load calls", service.LoadCalls())
	}

	loaded, err := client.ListLoaded(ctx)
	if err != nil || len(loaded) != 1 {
		t.Fatalf("ListLoaded = %+v, %v", loaded, err)
	}
	if err := client.UnloadAll(ctx); err != nil {
		t.Fatalf("UnloadAll failed: %v", err)
	}
	loaded, _ = client.ListLoaded(ctx)
	if len(loaded) != 0 {
		t.Errorf("Expected no loaded models, got %+v", loaded)
	}
}

func TestLoadErrors(t *testing.T) {
	client, service := newTestClient(t)
	ctx := context.Background()

	service.FailLoad("phi-3.5-mini", "bad weights")
	_, err := client.Load(ctx, "phi-3.5-mini", 5*time.Second)
	if !errors.Is(err, apperr.ErrModelLoad) || !strings.Contains(err.Error(), "bad weights") {
		t.Errorf("Expected ErrModelLoad with cause, got %v", err)
	}

	_, err = client.Load(ctx, "mistral-7b", 5*time.Second)
	if !errors.Is(err, apperr.ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad for an uncached model, got %v", err)
	}
}

func TestLoadTimeout(t *testing.T) {
	client, service := newTestClient(t)
	service.StallLoad("phi-3.5-mini")

	start := time.Now()
	_, err := client.Load(context.Background(), "phi-3.5-mini", 200*time.Millisecond)
	if !errors.Is(err, apperr.ErrModelLoadTimeout) {
		t.Fatalf("Expected ErrModelLoadTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Load took too long to time out: %v", time.Since(start))
	}
}

func TestPredict(t *testing.T) {
	client, service := newTestClient(t)
	ctx := context.Background()

	model, err := client.Load(ctx, "phi-3.5-mini", 5*time.Second)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	messages := []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}
	stream, err := client.Predict(ctx, model, messages, PredictionOptions{MaxTokens: 64})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	defer stream.Close()

	var fragments []string
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		fragments = append(fragments, fragment)
	}
	if got := strings.Join(fragments, ""); got != "Hello, world!" {
		t.Errorf("Unexpected response %q", got)
	}
	if len(fragments) != 5 {
		t.Errorf("Expected empty fragments to be passed through, got %q", fragments)
	}
	if got := service.LastChatMessages(); !reflect.DeepEqual(got, messages) {
		t.Errorf("Service received %+v, want %+v", got, messages)
	}
}

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingRunner) run(ctx context.Context, argv []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, argv)
	return r.err
}

func TestStartStop(t *testing.T) {
	_, host := getMockService(t)
	runner := &recordingRunner{}
	client := NewClient(host, logging.NewRecorder(logging.LevelTrace),
		WithStartCommand([]string{"foundry", "service", "start"}),
		WithStopCommand([]string{"foundry", "service", "stop"}),
		WithCommandRunner(runner.run),
	)
	ctx := context.Background()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := client.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	want := [][]string{{"foundry", "service", "start"}, {"foundry", "service", "stop"}}
	if !reflect.DeepEqual(runner.calls, want) {
		t.Errorf("Commands = %v, want %v", runner.calls, want)
	}
	if len(client.connections) != 0 {
		t.Errorf("Expected connections to be dropped on stop")
	}

	// the client reconnects after a stop
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	client.Close()
}

func TestStartFailures(t *testing.T) {
	_, host := getMockService(t)
	runner := &recordingRunner{err: errors.New("exit status 1")}
	client := NewClient(host, logging.NewRecorder(logging.LevelTrace),
		WithStartCommand([]string{"foundry", "service", "start"}),
		WithCommandRunner(runner.run),
	)
	if err := client.Start(context.Background()); !errors.Is(err, apperr.ErrServiceStart) {
		t.Errorf("Expected ErrServiceStart from failing command, got %v", err)
	}

	service, host := getMockService(t)
	service.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	client = NewClient(host, logging.NewRecorder(logging.LevelTrace))
	if err := client.Start(ctx); !errors.Is(err, apperr.ErrServiceStart) {
		t.Errorf("Expected ErrServiceStart from unreachable service, got %v", err)
	}
}

func TestExecRunner(t *testing.T) {
	if err := ExecRunner(context.Background(), nil); err == nil {
		t.Error("Expected error for empty command")
	}
	if err := ExecRunner(context.Background(), []string{"definitely-not-a-real-binary-xyz"}); err == nil {
		t.Error("Expected error for missing binary")
	}
}
