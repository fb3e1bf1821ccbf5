package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

func newTestProvisioner(svc *fakeService) (*Provisioner, *Metrics) {
	metrics := NewMetrics(prometheus.NewRegistry())
	logger := logging.NewRecorder(logging.LevelTrace)
	return NewProvisioner(NewLifecycle(svc, logger), svc, time.Minute, metrics, logger), metrics
}

func TestProgressLine(t *testing.T) {
	tests := []struct {
		in   foundry.DownloadProgress
		want string
	}{
		{foundry.DownloadProgress{Percentage: 0}, "Downloading... (0%)"},
		{foundry.DownloadProgress{Percentage: 42.4}, "Downloading... (42%)"},
		{foundry.DownloadProgress{Percentage: 99.6}, "Downloading... (100%)"},
		{foundry.DownloadProgress{Percentage: 100, IsCompleted: true}, "Download complete, (100%)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, progressLine(tt.in))
	}
}

func TestEnsureModelReady_DownloadsUncachedModelBeforeOneLoad(t *testing.T) {
	svc := newFakeService()
	p, metrics := newTestProvisioner(svc)

	var progress []string
	m, err := p.EnsureModelReady(context.Background(), "model-b", func(s string) { progress = append(progress, s) })
	require.NoError(t, err)
	assert.Equal(t, "model-b", m.ModelID)
	assert.Equal(t, "Model B", m.DisplayName)

	assert.Equal(t, []string{
		"Downloading model...",
		"Downloading... (0%)",
		"Downloading... (50%)",
		"Download complete, (100%)",
		"Download complete. Loading model...",
		"Started model: model-b",
		"ActiveModel type: Model B",
	}, progress)
	assert.Equal(t, []string{"start", "download:model-b", "load:model-b"}, svc.Events())
	assert.Equal(t, 1, svc.loads)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DownloadsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProvisioningTotal.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.ModelLoadSeconds))
}

func TestEnsureModelReady_CachedModelSkipsDownload(t *testing.T) {
	svc := newFakeService("model-a")
	p, metrics := newTestProvisioner(svc)

	var progress []string
	_, err := p.EnsureModelReady(context.Background(), "model-a", func(s string) { progress = append(progress, s) })
	require.NoError(t, err)

	for _, line := range progress {
		assert.False(t, strings.HasPrefix(line, "Download"), "unexpected download notification %q", line)
	}
	assert.Equal(t, []string{"Started model: model-a", "ActiveModel type: Model A"}, progress)
	assert.Equal(t, 0, svc.downloads)
	assert.Equal(t, 1, svc.loads)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.DownloadsTotal))
}

func TestEnsureModelReady_Failures(t *testing.T) {
	ctx := context.Background()
	discard := func(string) {}

	t.Run("service start", func(t *testing.T) {
		svc := newFakeService("model-a")
		svc.startErr = errBoom
		p, metrics := newTestProvisioner(svc)

		_, err := p.EnsureModelReady(ctx, "model-a", discard)
		assert.ErrorIs(t, err, apperr.ErrServiceStart)
		assert.Equal(t, 0, svc.loads)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProvisioningTotal.WithLabelValues("error")))
	})

	t.Run("download", func(t *testing.T) {
		svc := newFakeService()
		svc.downloadErr = errBoom
		p, _ := newTestProvisioner(svc)

		_, err := p.EnsureModelReady(ctx, "model-b", discard)
		assert.ErrorIs(t, err, apperr.ErrModelDownload)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 0, svc.loads)
	})

	t.Run("load", func(t *testing.T) {
		svc := newFakeService("model-a")
		svc.loadErr["model-a"] = errBoom
		p, _ := newTestProvisioner(svc)

		_, err := p.EnsureModelReady(ctx, "model-a", discard)
		assert.ErrorIs(t, err, apperr.ErrModelLoad)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("load timeout keeps its kind", func(t *testing.T) {
		svc := newFakeService("model-a")
		svc.loadErr["model-a"] = apperr.New(apperr.ErrModelLoadTimeout, "")
		p, _ := newTestProvisioner(svc)

		_, err := p.EnsureModelReady(ctx, "model-a", discard)
		assert.ErrorIs(t, err, apperr.ErrModelLoadTimeout)
		assert.NotErrorIs(t, err, apperr.ErrModelLoad)
		assert.Equal(t, 1, svc.loads, "a timed out load is not retried")
	})

	t.Run("cancelled download", func(t *testing.T) {
		svc := newFakeService()
		p, _ := newTestProvisioner(svc)
		cctx, cancel := context.WithCancel(ctx)

		var progress []string
		_, err := p.EnsureModelReady(cctx, "model-b", func(s string) {
			progress = append(progress, s)
			if s == MsgDownloading {
				cancel()
			}
		})
		assert.ErrorIs(t, err, apperr.ErrModelDownload)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{MsgDownloading}, progress)
	})
}
