package foundry

import (
	"context"
	"errors"
	"io"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
)

// DownloadStream yields the progress of one model download. It is finite
// and cannot be restarted; Recv returns io.EOF after the completion element.
type DownloadStream struct {
	ch       *channel
	modelID  string
	last     float64
	complete bool
	err      error
}

// Download asks the service to fetch a model into its cache.
func (c *Client) Download(ctx context.Context, modelID string) (*DownloadStream, error) {
	conn, err := c.getConnection(ctx, SystemNamespace)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrModelDownload, err, "failed to connect to %s namespace", SystemNamespace)
	}
	ch, err := conn.openChannel(DownloadModelEndpoint, map[string]interface{}{
		"modelKey": modelID,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrModelDownload, err, "")
	}
	c.logger.Debug("Downloading model %s on channel %d", modelID, ch.id)
	return &DownloadStream{ch: ch, modelID: modelID}, nil
}

// Recv returns the next progress element. Percentages never go backwards.
func (s *DownloadStream) Recv(ctx context.Context) (DownloadProgress, error) {
	if s.err != nil {
		return DownloadProgress{}, s.err
	}
	if s.complete {
		return DownloadProgress{}, io.EOF
	}
	for {
		p, err := s.ch.recv(ctx)
		if err != nil {
			if errors.Is(err, errChannelClosed) {
				err = errors.New("service closed the download before completion")
			}
			s.err = apperr.Wrap(apperr.ErrModelDownload, err, "failed to download %s", s.modelID)
			s.ch.close()
			return DownloadProgress{}, s.err
		}
		switch p.Type {
		case "progress":
			pct := p.Progress * 100
			if pct < s.last {
				pct = s.last
			}
			s.last = pct
			return DownloadProgress{Percentage: pct}, nil
		case "success":
			s.complete = true
			s.ch.markFinished()
			s.ch.close()
			return DownloadProgress{Percentage: 100, IsCompleted: true}, nil
		}
	}
}

// Close abandons the download stream.
func (s *DownloadStream) Close() error {
	s.ch.close()
	return nil
}
