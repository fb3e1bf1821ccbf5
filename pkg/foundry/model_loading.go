package foundry

import (
	"context"
	"errors"
	"time"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
)

// Load loads a cached model and waits, at most timeout, for it to become
// ready. A model that is already loaded is returned as is.
func (c *Client) Load(ctx context.Context, modelID string, timeout time.Duration) (ActiveModel, error) {
	if m, ok := c.findLoaded(ctx, modelID); ok {
		c.logger.Debug("Model %s is already loaded", modelID)
		return m, nil
	}

	conn, err := c.getConnection(ctx, LLMNamespace)
	if err != nil {
		return ActiveModel{}, apperr.Wrap(apperr.ErrModelLoad, err, "failed to connect to %s namespace", LLMNamespace)
	}

	loadCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch, err := conn.openChannel(LoadModelEndpoint, map[string]interface{}{
		"modelKey":   modelID,
		"identifier": modelID,
		"loadConfigStack": map[string]interface{}{
			"layers": []interface{}{},
		},
	})
	if err != nil {
		return ActiveModel{}, apperr.Wrap(apperr.ErrModelLoad, err, "")
	}
	defer ch.close()

	c.logger.Debug("Waiting for model %s to load (timeout: %v)...", modelID, timeout)
	for {
		p, err := ch.recv(loadCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return ActiveModel{}, apperr.Wrap(apperr.ErrModelLoadTimeout, err, "model %s did not load within %v", modelID, timeout)
			}
			return ActiveModel{}, apperr.Wrap(apperr.ErrModelLoad, err, "failed to load %s", modelID)
		}
		switch p.Type {
		case "progress":
			c.logger.Debug("Loading model %s: %.1f%% complete", modelID, p.Progress*100)
		case "resolved":
			c.logger.Trace("Model %s resolved", modelID)
		case "success":
			ch.markFinished()
			if p.Info == nil {
				return ActiveModel{}, apperr.New(apperr.ErrModelLoad, "success message for %s missing info", modelID)
			}
			c.logger.Debug("Model %s loaded with identifier %s", modelID, p.Info.Identifier)
			return c.activeModel(modelID, p.Info.DisplayName, p.Info.InstanceReference), nil
		}
	}
}

func (c *Client) findLoaded(ctx context.Context, modelID string) (ActiveModel, bool) {
	loaded, err := c.ListLoaded(ctx)
	if err != nil {
		c.logger.Warn("Failed to check if model is already loaded: %v", err)
		return ActiveModel{}, false
	}
	for _, m := range loaded {
		if m.ModelID == modelID {
			return m, true
		}
	}
	return ActiveModel{}, false
}
