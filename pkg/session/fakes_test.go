package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/augment"
	"github.com/hypernetix/foundry-chat-go/pkg/chat"
	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
)

var testCatalog = []foundry.ModelDescriptor{
	{ID: "model-a", DisplayName: "Model A"},
	{ID: "model-b", DisplayName: "Model B"},
	{ID: "model-c"},
}

// fakeService records every call in order.
type fakeService struct {
	mu       sync.Mutex
	events   []string
	cached   map[string]bool
	progress []foundry.DownloadProgress

	startErr    error
	stopErr     error
	downloadErr error
	loadErr     map[string]error

	starts, stops, loads, downloads, closes int
}

func newFakeService(cached ...string) *fakeService {
	s := &fakeService{
		cached: make(map[string]bool),
		progress: []foundry.DownloadProgress{
			{Percentage: 0},
			{Percentage: 50},
			{Percentage: 100, IsCompleted: true},
		},
		loadErr: make(map[string]error),
	}
	for _, id := range cached {
		s.cached[id] = true
	}
	return s
}

func (s *fakeService) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *fakeService) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.events = append(s.events, "start")
	return s.startErr
}

func (s *fakeService) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.events = append(s.events, "stop")
	return s.stopErr
}

func (s *fakeService) ListCachedModels(context.Context) ([]foundry.ModelDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []foundry.ModelDescriptor
	for _, m := range testCatalog {
		if s.cached[m.ID] {
			m.IsCached = true
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeService) ListCatalogModels(context.Context) ([]foundry.ModelDescriptor, error) {
	return append([]foundry.ModelDescriptor(nil), testCatalog...), nil
}

func (s *fakeService) Download(_ context.Context, modelID string) (ProgressStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads++
	s.events = append(s.events, "download:"+modelID)
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	return &fakeProgress{svc: s, modelID: modelID, updates: s.progress}, nil
}

func (s *fakeService) Load(ctx context.Context, modelID string, timeout time.Duration) (foundry.ActiveModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	s.events = append(s.events, "load:"+modelID)
	if err := s.loadErr[modelID]; err != nil {
		return foundry.ActiveModel{}, err
	}
	if !s.cached[modelID] {
		return foundry.ActiveModel{}, apperr.New(apperr.ErrModelLoad, "%s is not cached", modelID)
	}
	m := foundry.ActiveModel{ModelID: modelID, DisplayName: modelID, Endpoint: "http://fake/v1", InstanceReference: modelID}
	for _, d := range testCatalog {
		if d.ID == modelID && d.DisplayName != "" {
			m.DisplayName = d.DisplayName
		}
	}
	return m, nil
}

func (s *fakeService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

type fakeProgress struct {
	svc     *fakeService
	modelID string
	updates []foundry.DownloadProgress
	next    int
}

func (p *fakeProgress) Recv(ctx context.Context) (foundry.DownloadProgress, error) {
	if err := ctx.Err(); err != nil {
		return foundry.DownloadProgress{}, err
	}
	if p.next >= len(p.updates) {
		p.svc.mu.Lock()
		p.svc.cached[p.modelID] = true
		p.svc.mu.Unlock()
		return foundry.DownloadProgress{}, io.EOF
	}
	u := p.updates[p.next]
	p.next++
	return u, nil
}

func (p *fakeProgress) Close() error { return nil }

// fakeCompleter streams fixed fragments. If gate is set, the stream blocks
// on it before the first fragment.
type fakeCompleter struct {
	mu        sync.Mutex
	calls     int
	lastTurns []chat.Turn
	fragments []string
	err       error
	started   chan struct{}
	gate      chan struct{}
}

func (c *fakeCompleter) Stream(ctx context.Context, model foundry.ActiveModel, turns []chat.Turn, maxTokens int) (chat.Stream, error) {
	c.mu.Lock()
	c.calls++
	c.lastTurns = turns
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.started != nil {
		close(c.started)
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &fakeStream{fragments: c.fragments}, nil
}

func (c *fakeCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeStream struct {
	fragments []string
	next      int
}

func (s *fakeStream) Recv() (string, error) {
	if s.next >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.next]
	s.next++
	return f, nil
}

func (s *fakeStream) Close() error { return nil }

type unavailableAugmenter struct{ reason string }

func (unavailableAugmenter) Name() string { return "fake" }

func (a unavailableAugmenter) Augment(context.Context, string) augment.Result {
	return augment.Unavailable(a.reason)
}

// collector is a Notifier that keeps everything it receives.
type collector struct {
	mu       sync.Mutex
	progress []string
	results  []string
}

func (c *collector) Progress(msg string) {
	c.mu.Lock()
	c.progress = append(c.progress, msg)
	c.mu.Unlock()
}

func (c *collector) Result(msg string) {
	c.mu.Lock()
	c.results = append(c.results, msg)
	c.mu.Unlock()
}

func (c *collector) Progressed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.progress...)
}

func (c *collector) Results() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.results...)
}

func (c *collector) Reset() {
	c.mu.Lock()
	c.progress, c.results = nil, nil
	c.mu.Unlock()
}

var errBoom = errors.New("boom")
