package foundry

import (
	"context"
	"errors"
	"io"
)

// PredictionOptions tune a native prediction.
type PredictionOptions struct {
	MaxTokens   int
	Temperature *float64
}

// PredictionStream yields completion fragments from the predict channel.
type PredictionStream struct {
	ch   *channel
	ctx  context.Context
	done bool
}

// Predict opens a streaming prediction for the given conversation against a
// loaded model instance.
func (c *Client) Predict(ctx context.Context, model ActiveModel, messages []ChatMessage, opts PredictionOptions) (*PredictionStream, error) {
	conn, err := c.getConnection(ctx, LLMNamespace)
	if err != nil {
		return nil, err
	}

	history := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		history = append(history, map[string]interface{}{
			"role":    m.Role,
			"content": []map[string]interface{}{{"type": "text", "text": m.Content}},
		})
	}
	config := map[string]interface{}{
		"stream": true,
		"fields": []interface{}{},
	}
	if opts.MaxTokens > 0 {
		config["maxTokens"] = opts.MaxTokens
	}
	if opts.Temperature != nil {
		config["temperature"] = *opts.Temperature
	}

	ch, err := conn.openChannel(PredictEndpoint, map[string]interface{}{
		"modelSpecifier": map[string]interface{}{
			"type":              "instanceReference",
			"instanceReference": model.InstanceReference,
		},
		"history": map[string]interface{}{"messages": history},
		"predictionConfigStack": map[string]interface{}{
			"layers": []interface{}{
				map[string]interface{}{"layerName": "instance", "config": config},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Predicting with %s on channel %d (%d messages)", model.ModelID, ch.id, len(messages))
	return &PredictionStream{ch: ch, ctx: ctx}, nil
}

// Recv returns the next fragment, possibly empty, or io.EOF at the end.
func (s *PredictionStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		p, err := s.ch.recv(s.ctx)
		if errors.Is(err, errChannelClosed) {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		switch p.Type {
		case "fragment":
			if p.Fragment != nil {
				return p.Fragment.Content, nil
			}
			return "", nil
		case "chatToken":
			return p.Token, nil
		case "success", "completed", "chatEnd":
			s.done = true
			s.ch.markFinished()
			return "", io.EOF
		}
	}
}

// Close releases the prediction channel.
func (s *PredictionStream) Close() error {
	s.ch.close()
	return nil
}
