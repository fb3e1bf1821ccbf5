package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// Provisioning progress lines.
const (
	MsgDownloading     = "Downloading model..."
	MsgDownloadLoading = "Download complete. Loading model..."
)

// Provisioner makes a model ready: download if it is not cached, then load.
// Nothing is retried.
type Provisioner struct {
	lifecycle   *Lifecycle
	svc         Service
	loadTimeout time.Duration
	metrics     *Metrics
	logger      logging.Logger
}

func NewProvisioner(lifecycle *Lifecycle, svc Service, loadTimeout time.Duration, metrics *Metrics, logger logging.Logger) *Provisioner {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Provisioner{
		lifecycle:   lifecycle,
		svc:         svc,
		loadTimeout: loadTimeout,
		metrics:     metrics,
		logger:      logging.OrDefault(logger),
	}
}

func progressLine(p foundry.DownloadProgress) string {
	if p.IsCompleted {
		return fmt.Sprintf("Download complete, (%.0f%%)", p.Percentage)
	}
	return fmt.Sprintf("Downloading... (%.0f%%)", p.Percentage)
}

// EnsureModelReady provisions modelID and returns the loaded model. The
// caller installs the result; on error nothing has changed.
func (p *Provisioner) EnsureModelReady(ctx context.Context, modelID string, progress func(string)) (m foundry.ActiveModel, err error) {
	defer func() { p.metrics.provisioned(err) }()

	if err := p.lifecycle.EnsureStarted(ctx); err != nil {
		return foundry.ActiveModel{}, err
	}

	cached, err := p.lifecycle.ListCachedModels(ctx)
	if err != nil {
		return foundry.ActiveModel{}, apperr.Wrap(apperr.ErrModelLoad, err, "failed to list cached models")
	}
	isCached := false
	for _, c := range cached {
		if c.ID == modelID {
			isCached = true
			break
		}
	}

	if !isCached {
		if err := p.download(ctx, modelID, progress); err != nil {
			return foundry.ActiveModel{}, err
		}
	}

	p.logger.Info("Loading model %s (timeout %v)", modelID, p.loadTimeout)
	start := time.Now()
	m, err = p.svc.Load(ctx, modelID, p.loadTimeout)
	p.metrics.observeLoad(start)
	if err != nil {
		if !errors.Is(err, apperr.ErrModelLoadTimeout) && !errors.Is(err, apperr.ErrModelLoad) {
			err = apperr.Wrap(apperr.ErrModelLoad, err, "failed to load %s", modelID)
		}
		return foundry.ActiveModel{}, err
	}
	progress("Started model: " + modelID)
	progress("ActiveModel type: " + m.DisplayName)
	return m, nil
}

// download drains the whole progress sequence; it never stops early.
func (p *Provisioner) download(ctx context.Context, modelID string, progress func(string)) error {
	progress(MsgDownloading)
	p.metrics.DownloadsTotal.Inc()
	p.logger.Info("Downloading model %s", modelID)

	stream, err := p.svc.Download(ctx, modelID)
	if err != nil {
		return wrapDownload(err, modelID)
	}
	defer stream.Close()

	for {
		update, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return wrapDownload(err, modelID)
		}
		progress(progressLine(update))
	}
	progress(MsgDownloadLoading)
	return nil
}

func wrapDownload(err error, modelID string) error {
	if errors.Is(err, apperr.ErrModelDownload) {
		return err
	}
	return apperr.Wrap(apperr.ErrModelDownload, err, "failed to download %s", modelID)
}
