package foundry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// Client talks to a local inference service over its websocket namespaces.
type Client struct {
	logger       logging.Logger
	apiHost      string
	startCommand []string
	stopCommand  []string
	run          CommandRunner
	connections  map[string]*namespaceConnection
	mu           sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithStartCommand sets the command run by Start before connecting.
func WithStartCommand(argv []string) Option {
	return func(c *Client) { c.startCommand = argv }
}

// WithStopCommand sets the command run by Stop after disconnecting.
func WithStopCommand(argv []string) Option {
	return func(c *Client) { c.stopCommand = argv }
}

// WithCommandRunner replaces the process runner.
func WithCommandRunner(run CommandRunner) Option {
	return func(c *Client) { c.run = run }
}

// NewClient creates a client for the service at apiHost ("host:port" or a URL).
func NewClient(apiHost string, logger logging.Logger, opts ...Option) *Client {
	if apiHost == "" {
		apiHost = fmt.Sprintf("http://%s:%d", DefaultAPIHosts[0], DefaultAPIPorts[0])
	}
	if !strings.Contains(apiHost, "://") {
		apiHost = "http://" + apiHost
	}
	c := &Client{
		logger:      logging.OrDefault(logger),
		apiHost:     strings.TrimSuffix(apiHost, "/"),
		run:         ExecRunner,
		connections: make(map[string]*namespaceConnection),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint is the base URL of the OpenAI-compatible API.
func (c *Client) Endpoint() string {
	return c.apiHost + CompletionAPIPath
}

func (c *Client) getConnection(ctx context.Context, namespace string) (*namespaceConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.connections[namespace]; ok && conn.isConnected() {
		return conn, nil
	}
	conn := newNamespaceConnection(namespace, c.logger)
	if err := conn.connect(ctx, c.apiHost); err != nil {
		return nil, err
	}
	c.connections[namespace] = conn
	return conn, nil
}

// Start launches the service, if a start command is configured, and verifies
// that the system namespace answers.
func (c *Client) Start(ctx context.Context) error {
	if len(c.startCommand) > 0 {
		c.logger.Info("Starting inference service: %s", strings.Join(c.startCommand, " "))
		if err := c.run(ctx, c.startCommand); err != nil {
			return apperr.Wrap(apperr.ErrServiceStart, err, "")
		}
	}
	if _, err := c.CheckStatus(ctx); err != nil {
		return apperr.Wrap(apperr.ErrServiceStart, err, "inference service at %s is not reachable", c.apiHost)
	}
	return nil
}

// Stop drops all connections and runs the stop command, if any.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.Close(); err != nil {
		c.logger.Warn("Error closing connections: %v", err)
	}
	if len(c.stopCommand) > 0 {
		c.logger.Info("Stopping inference service: %s", strings.Join(c.stopCommand, " "))
		if err := c.run(ctx, c.stopCommand); err != nil {
			return apperr.Wrap(apperr.ErrServiceStop, err, "")
		}
	}
	return nil
}

// Close closes all namespace connections. The client may reconnect later.
func (c *Client) Close() error {
	c.mu.Lock()
	conns := c.connections
	c.connections = make(map[string]*namespaceConnection)
	c.mu.Unlock()

	var lastErr error
	for namespace, conn := range conns {
		if err := conn.close(); err != nil {
			lastErr = fmt.Errorf("failed to close %s connection: %w", namespace, err)
			c.logger.Debug("Error closing %s connection: %v", namespace, err)
		}
	}
	return lastErr
}

// CheckStatus reports whether the service accepts connections and answers RPCs.
func (c *Client) CheckStatus(ctx context.Context) (bool, error) {
	conn, err := c.getConnection(ctx, SystemNamespace)
	if err != nil {
		return false, err
	}
	if _, err := conn.RemoteCall(ctx, ListDownloadedEndpoint, nil); err != nil {
		return false, fmt.Errorf("service is running but API is not responding correctly: %w", err)
	}
	return true, nil
}

func (c *Client) listModels(ctx context.Context, namespace, endpoint string) ([]wireModel, error) {
	conn, err := c.getConnection(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s namespace: %w", namespace, err)
	}
	result, err := conn.RemoteCall(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var models []wireModel
	if err := json.Unmarshal(result, &models); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return models, nil
}

// ListCachedModels lists the models present in the local cache.
func (c *Client) ListCachedModels(ctx context.Context) ([]ModelDescriptor, error) {
	models, err := c.listModels(ctx, SystemNamespace, ListDownloadedEndpoint)
	if err != nil {
		return nil, err
	}
	out := make([]ModelDescriptor, 0, len(models))
	for _, m := range models {
		out = append(out, m.descriptor(true))
	}
	return out, nil
}

// ListCatalogModels lists every model the service can provide, in catalog
// order. IsCached is left false; callers join against ListCachedModels.
func (c *Client) ListCatalogModels(ctx context.Context) ([]ModelDescriptor, error) {
	models, err := c.listModels(ctx, SystemNamespace, ListCatalogEndpoint)
	if err != nil {
		return nil, err
	}
	out := make([]ModelDescriptor, 0, len(models))
	for _, m := range models {
		out = append(out, m.descriptor(false))
	}
	return out, nil
}

// ListLoaded lists the models currently loaded into the service.
func (c *Client) ListLoaded(ctx context.Context) ([]ActiveModel, error) {
	models, err := c.listModels(ctx, LLMNamespace, ListLoadedEndpoint)
	if err != nil {
		return nil, err
	}
	out := make([]ActiveModel, 0, len(models))
	for _, m := range models {
		out = append(out, c.activeModel(m.ModelKey, m.DisplayName, m.InstanceReference))
	}
	return out, nil
}

func (c *Client) activeModel(modelKey, displayName, instanceRef string) ActiveModel {
	if displayName == "" {
		displayName = modelKey
	}
	if instanceRef == "" {
		instanceRef = modelKey
	}
	return ActiveModel{
		ModelID:           modelKey,
		DisplayName:       displayName,
		Endpoint:          c.Endpoint(),
		InstanceReference: instanceRef,
	}
}

// Unload unloads a model by identifier.
func (c *Client) Unload(ctx context.Context, modelID string) error {
	conn, err := c.getConnection(ctx, LLMNamespace)
	if err != nil {
		return fmt.Errorf("failed to connect to %s namespace: %w", LLMNamespace, err)
	}
	if _, err := conn.RemoteCall(ctx, UnloadModelEndpoint, map[string]interface{}{"identifier": modelID}); err != nil {
		return err
	}
	c.logger.Debug("Unloaded model: %s", modelID)
	return nil
}

// UnloadAll unloads every loaded model, continuing past individual failures.
func (c *Client) UnloadAll(ctx context.Context) error {
	loaded, err := c.ListLoaded(ctx)
	if err != nil {
		return fmt.Errorf("failed to list loaded models: %w", err)
	}
	for _, m := range loaded {
		if err := c.Unload(ctx, m.ModelID); err != nil {
			c.logger.Warn("Failed to unload model %s: %v", m.ModelID, err)
		}
	}
	return nil
}
