package session

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// ServiceState is the state of the service handle.
type ServiceState int

const (
	ServiceStopped ServiceState = iota
	ServiceStarting
	ServiceRunning
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStopped:
		return "Stopped"
	case ServiceStarting:
		return "Starting"
	case ServiceRunning:
		return "Running"
	}
	return "Unknown"
}

// Shutdown progress lines.
const (
	MsgStopService    = "Finalize. Stop Service..."
	MsgRestartService = "Finalize. Restart Service..."
)

// Lifecycle owns the service handle.
type Lifecycle struct {
	svc    Service
	logger logging.Logger

	mu          chanMutex
	state       ServiceState
	everStarted bool
}

// chanMutex is a mutex whose Lock can be abandoned when ctx ends.
type chanMutex chan struct{}

func newChanMutex() chanMutex { return make(chanMutex, 1) }

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() { <-m }

func NewLifecycle(svc Service, logger logging.Logger) *Lifecycle {
	return &Lifecycle{svc: svc, logger: logging.OrDefault(logger), mu: newChanMutex()}
}

// State returns the current handle state.
func (l *Lifecycle) State() ServiceState {
	_ = l.mu.lock(context.Background())
	defer l.mu.unlock()
	return l.state
}

// EverStarted reports whether a start ever succeeded.
func (l *Lifecycle) EverStarted() bool {
	_ = l.mu.lock(context.Background())
	defer l.mu.unlock()
	return l.everStarted
}

// EnsureStarted starts the service unless it is running. It blocks until the
// start returns; there is no automatic retry.
func (l *Lifecycle) EnsureStarted(ctx context.Context) error {
	if err := l.mu.lock(ctx); err != nil {
		return err
	}
	defer l.mu.unlock()
	return l.startLocked(ctx)
}

func (l *Lifecycle) startLocked(ctx context.Context) error {
	if l.state == ServiceRunning {
		return nil
	}
	l.state = ServiceStarting
	l.logger.Info("Starting inference service")
	if err := l.svc.Start(ctx); err != nil {
		l.state = ServiceStopped
		if !errors.Is(err, apperr.ErrServiceStart) {
			err = apperr.Wrap(apperr.ErrServiceStart, err, "")
		}
		return err
	}
	l.state = ServiceRunning
	l.everStarted = true
	return nil
}

func (l *Lifecycle) requireRunning() error {
	_ = l.mu.lock(context.Background())
	defer l.mu.unlock()
	if l.state != ServiceRunning {
		return apperr.New(apperr.ErrNotStarted, "")
	}
	return nil
}

// ListCachedModels lists cached models in provider order.
func (l *Lifecycle) ListCachedModels(ctx context.Context) ([]foundry.ModelDescriptor, error) {
	if err := l.requireRunning(); err != nil {
		return nil, err
	}
	return l.svc.ListCachedModels(ctx)
}

// ListCatalogModels lists catalog models in provider order.
func (l *Lifecycle) ListCatalogModels(ctx context.Context) ([]foundry.ModelDescriptor, error) {
	if err := l.requireRunning(); err != nil {
		return nil, err
	}
	return l.svc.ListCatalogModels(ctx)
}

// ListModels starts the service if needed and returns the catalog with
// IsCached set from the cache listing. Catalog order is preserved.
func (l *Lifecycle) ListModels(ctx context.Context) ([]foundry.ModelDescriptor, error) {
	if err := l.EnsureStarted(ctx); err != nil {
		return nil, err
	}

	var cached, catalog []foundry.ModelDescriptor
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cached, err = l.ListCachedModels(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		catalog, err = l.ListCatalogModels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cachedIDs := make(map[string]struct{}, len(cached))
	for _, m := range cached {
		if m.ID != "" {
			cachedIDs[m.ID] = struct{}{}
		}
	}
	out := make([]foundry.ModelDescriptor, 0, len(catalog))
	for _, m := range catalog {
		_, m.IsCached = cachedIDs[m.ID]
		if m.DisplayName == "" {
			m.DisplayName = m.ID
		}
		out = append(out, m)
	}
	return out, nil
}

// Stop stops the service. Stopping a stopped service is a no-op.
func (l *Lifecycle) Stop(ctx context.Context) error {
	if err := l.mu.lock(ctx); err != nil {
		return err
	}
	defer l.mu.unlock()
	return l.stopLocked(ctx)
}

func (l *Lifecycle) stopLocked(ctx context.Context) error {
	if l.state == ServiceStopped {
		return nil
	}
	l.logger.Info("Stopping inference service")
	err := l.svc.Stop(ctx)
	l.state = ServiceStopped
	if err != nil && !errors.Is(err, apperr.ErrServiceStop) {
		err = apperr.Wrap(apperr.ErrServiceStop, err, "")
	}
	return err
}

// Restart stops and starts the service to release the hardware it holds.
// It does nothing if the service was never started.
func (l *Lifecycle) Restart(ctx context.Context, progress func(string)) error {
	if err := l.mu.lock(ctx); err != nil {
		return err
	}
	defer l.mu.unlock()

	if !l.everStarted {
		return nil
	}
	progress(MsgStopService)
	if err := l.stopLocked(ctx); err != nil {
		return err
	}
	progress(MsgRestartService)
	return l.startLocked(ctx)
}
