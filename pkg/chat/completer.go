package chat

import (
	"context"
	"net/http"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// Stream is a lazy, finite sequence of text increments. Recv returns io.EOF
// after the last increment.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Completer starts one streaming completion for a conversation.
type Completer interface {
	Stream(ctx context.Context, model foundry.ActiveModel, turns []Turn, maxTokens int) (Stream, error)
}

// OpenAICompleter streams from the OpenAI-compatible API at ActiveModel.Endpoint.
type OpenAICompleter struct {
	httpClient *http.Client
	logger     logging.Logger

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAICompleter uses httpClient for every request; the local service
// needs no API key.
func NewOpenAICompleter(httpClient *http.Client, logger logging.Logger) *OpenAICompleter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAICompleter{
		httpClient: httpClient,
		logger:     logging.OrDefault(logger),
		clients:    make(map[string]*openai.Client),
	}
}

func (c *OpenAICompleter) client(endpoint string) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[endpoint]; ok {
		return cl
	}
	cfg := openai.DefaultConfig("unused")
	cfg.BaseURL = endpoint
	cfg.HTTPClient = c.httpClient
	cl := openai.NewClientWithConfig(cfg)
	c.clients[endpoint] = cl
	return cl
}

func (c *OpenAICompleter) Stream(ctx context.Context, model foundry.ActiveModel, turns []Turn, maxTokens int) (Stream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:     model.ModelID,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    true,
	}
	c.logger.Debug("Streaming completion from %s (%d turns, max %d tokens)", model.Endpoint, len(turns), maxTokens)
	stream, err := c.client(model.Endpoint).CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// Predictor is the native prediction surface of the inference service.
type Predictor interface {
	Predict(ctx context.Context, model foundry.ActiveModel, messages []foundry.ChatMessage, opts foundry.PredictionOptions) (*foundry.PredictionStream, error)
}

// NativeCompleter streams over the service's own predict channel.
type NativeCompleter struct {
	predictor Predictor
}

func NewNativeCompleter(p Predictor) *NativeCompleter {
	return &NativeCompleter{predictor: p}
}

func (c *NativeCompleter) Stream(ctx context.Context, model foundry.ActiveModel, turns []Turn, maxTokens int) (Stream, error) {
	messages := make([]foundry.ChatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, foundry.ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	stream, err := c.predictor.Predict(ctx, model, messages, foundry.PredictionOptions{MaxTokens: maxTokens})
	if err != nil {
		return nil, err
	}
	return stream, nil
}
