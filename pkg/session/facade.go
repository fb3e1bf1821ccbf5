package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/augment"
	"github.com/hypernetix/foundry-chat-go/pkg/chat"
	"github.com/hypernetix/foundry-chat-go/pkg/config"
	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// Options wires a Facade from already built collaborators.
type Options struct {
	Service     Service
	Completer   chat.Completer
	Augmenter   augment.Strategy // nil disables web search
	Notifier    Notifier         // nil drops notifications
	Metrics     *Metrics         // nil registers on a private registry
	HTTPClient  *http.Client     // shared transport, closed on Shutdown
	LoadTimeout time.Duration
	Chat        chat.Options
}

// Facade is the single object a presentation layer talks to. LoadModel and
// Send are serialized; progress and result lines go to the Notifier.
type Facade struct {
	id          string
	logger      logging.Logger
	notifier    Notifier
	metrics     *Metrics
	svc         Service
	httpClient  *http.Client
	lifecycle   *Lifecycle
	provisioner *Provisioner
	chat        *chat.Session

	mu     chanMutex
	closed bool
}

// New creates a facade. Nothing is started until the first request.
func New(opts Options, logger logging.Logger) *Facade {
	logger = logging.OrDefault(logger)
	if opts.Notifier == nil {
		opts.Notifier = FuncNotifier{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = config.Default().Foundry.LoadModelTimeout()
	}
	if opts.Chat.Observer == nil {
		opts.Chat.Observer = opts.Metrics
	}

	lifecycle := NewLifecycle(opts.Service, logger)
	f := &Facade{
		id:          uuid.NewString(),
		logger:      logger,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		svc:         opts.Service,
		httpClient:  opts.HTTPClient,
		lifecycle:   lifecycle,
		provisioner: NewProvisioner(lifecycle, opts.Service, opts.LoadTimeout, opts.Metrics, logger),
		chat:        chat.NewSession(opts.Completer, opts.Augmenter, opts.Chat, logger),
		mu:          newChanMutex(),
	}
	logger.Debug("Session %s created", f.id)
	return f
}

// NewFromConfig builds the whole stack from configuration: one shared HTTP
// client, the inference service client, the search strategy and the
// completion transport. When no host is configured and no start command is
// set, the service is discovered on the local network.
func NewFromConfig(ctx context.Context, cfg *config.Config, notifier Notifier, reg prometheus.Registerer, logger logging.Logger) (*Facade, error) {
	logger = logging.OrDefault(logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.OpenAI.RequestTimeout()}

	addr, err := ServiceAddress(ctx, cfg.Foundry, logger)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrServiceStart, err, "")
	}
	client := foundry.NewClient(addr, logger,
		foundry.WithStartCommand(cfg.Foundry.StartCommand),
		foundry.WithStopCommand(cfg.Foundry.StopCommand),
	)

	augmenter, err := augment.New(cfg.Search, httpClient, logger)
	if err != nil {
		return nil, err
	}

	var completer chat.Completer
	switch cfg.Foundry.Completion {
	case config.CompletionNative:
		completer = chat.NewNativeCompleter(client)
	default:
		completer = chat.NewOpenAICompleter(httpClient, logger)
	}

	return New(Options{
		Service:     FromClient(client),
		Completer:   completer,
		Augmenter:   augmenter,
		Notifier:    notifier,
		Metrics:     NewMetrics(reg),
		HTTPClient:  httpClient,
		LoadTimeout: cfg.Foundry.LoadModelTimeout(),
		Chat: chat.Options{
			SystemPrompt: cfg.OpenAI.SystemPrompt,
			MaxTokens:    cfg.OpenAI.MaxTokens,
			Fold:         cfg.Search.Fold,
		},
	}, logger), nil
}

// ServiceAddress resolves the address of the inference service from
// configuration, discovering it when no host is set.
func ServiceAddress(ctx context.Context, cfg config.FoundryConfig, logger logging.Logger) (string, error) {
	switch {
	case cfg.Host != "" && cfg.Port != 0:
		return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), nil
	case cfg.Host != "":
		return cfg.Host, nil
	case len(cfg.StartCommand) > 0:
		// the service is not up yet, so there is nothing to discover
		port := cfg.Port
		if port == 0 {
			port = foundry.DefaultAPIPorts[0]
		}
		return fmt.Sprintf("%s:%d", foundry.DefaultAPIHosts[0], port), nil
	}
	return foundry.Discover(ctx, "", cfg.Port, logger)
}

// ID identifies this session in logs.
func (f *Facade) ID() string { return f.id }

// Metrics returns the session metrics.
func (f *Facade) Metrics() *Metrics { return f.metrics }

// State is the chat session state.
func (f *Facade) State() chat.State { return f.chat.State() }

// ServiceState is the state of the service handle.
func (f *Facade) ServiceState() ServiceState { return f.lifecycle.State() }

// IsModelLoaded reports whether a model is active.
func (f *Facade) IsModelLoaded() bool {
	_, ok := f.chat.ActiveModel()
	return ok
}

// ActiveModelDisplayName returns the display name of the active model, or
// an empty string.
func (f *Facade) ActiveModelDisplayName() string {
	m, _ := f.chat.ActiveModel()
	return m.DisplayName
}

// History returns a copy of the conversation with the active model.
func (f *Facade) History() []chat.Turn { return f.chat.History() }

func (f *Facade) acquire(ctx context.Context) error {
	if err := f.mu.lock(ctx); err != nil {
		return err
	}
	if f.closed {
		f.mu.unlock()
		return apperr.New(apperr.ErrNotStarted, "session is shut down")
	}
	return nil
}

func (f *Facade) report(err error) error {
	f.notifier.Result(apperr.UserMessage(err))
	return err
}

// ListModels returns the catalog with cache annotations, starting the
// service if needed.
func (f *Facade) ListModels(ctx context.Context) ([]foundry.ModelDescriptor, error) {
	models, err := f.lifecycle.ListModels(ctx)
	if err != nil {
		f.logger.Error("[%s] Listing models failed: %v", f.id, err)
		return nil, f.report(err)
	}
	return models, nil
}

// LoadModel provisions modelID and makes it the active model with a new
// conversation. On failure the previous model stays active.
func (f *Facade) LoadModel(ctx context.Context, modelID string) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.mu.unlock()

	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return f.report(apperr.New(apperr.ErrInvalidRequest, "model id is empty"))
	}

	abort := f.chat.BeginLoading()
	m, err := f.provisioner.EnsureModelReady(ctx, modelID, f.notifier.Progress)
	if err != nil {
		abort()
		f.logger.Error("[%s] Provisioning %s failed: %v", f.id, modelID, err)
		return f.report(err)
	}
	f.chat.SetModel(m)
	f.logger.Info("[%s] Active model: %s", f.id, m.ModelID)
	return nil
}

// Send runs one chat turn. Every outcome, including rejections and
// completion failures, is written to the result stream.
func (f *Facade) Send(ctx context.Context, text string, useAugmentation bool) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.mu.unlock()
	return f.chat.Send(ctx, text, useAugmentation, f.notifier.Result)
}

// Shutdown waits for the running request, restarts the service if it was
// ever started so it releases the hardware it holds, and disposes the
// shared transports. A restart failure is logged and returned; the facade is
// closed either way.
func (f *Facade) Shutdown(ctx context.Context) error {
	if err := f.mu.lock(ctx); err != nil {
		return err
	}
	defer f.mu.unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	if f.lifecycle.EverStarted() {
		if err = f.lifecycle.Restart(ctx, f.notifier.Progress); err != nil {
			f.logger.Error("[%s] Service restart on shutdown failed: %v", f.id, err)
		}
	}
	f.httpClient.CloseIdleConnections()
	if cerr := f.svc.Close(); cerr != nil {
		f.logger.Debug("[%s] Closing service connections: %v", f.id, cerr)
	}
	f.logger.Debug("Session %s shut down", f.id)
	return err
}

// PreferredModel picks modelID from models, or the first entry when it is
// blank or absent. It is a preselection hint only.
func PreferredModel(models []foundry.ModelDescriptor, modelID string) (foundry.ModelDescriptor, bool) {
	if len(models) == 0 {
		return foundry.ModelDescriptor{}, false
	}
	for _, m := range models {
		if modelID != "" && m.ID == modelID {
			return m, true
		}
	}
	return models[0], true
}
