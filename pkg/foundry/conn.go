package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

var errConnectionClosed = errors.New("connection closed")

// envelope is the frame shared by RPC and channel traffic.
type envelope struct {
	Type      string          `json:"type"`
	CallID    *int            `json:"callId,omitempty"`
	ChannelID *int            `json:"channelId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Error     *remoteError    `json:"error,omitempty"`
	Warning   string          `json:"warning,omitempty"`
}

type remoteError struct {
	Title     string `json:"title,omitempty"`
	RootTitle string `json:"rootTitle,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
}

func (e *remoteError) Error() string {
	switch {
	case e == nil:
		return "unknown remote error"
	case e.Title != "":
		return e.Title
	case e.RootTitle != "":
		return e.RootTitle
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	}
	return "unknown remote error"
}

// namespaceConnection is one authenticated websocket to a service namespace.
type namespaceConnection struct {
	logger       logging.Logger
	namespace    string
	conn         *websocket.Conn
	nextCallID   int
	nextChanID   int
	pendingCalls map[int]chan envelope
	channels     map[int]*channel
	connected    bool
	done         chan struct{} // closed when the reader exits
	mu           sync.Mutex
	writeMu      sync.Mutex
}

func newNamespaceConnection(namespace string, logger logging.Logger) *namespaceConnection {
	return &namespaceConnection{
		logger:       logger,
		namespace:    namespace,
		pendingCalls: make(map[int]chan envelope),
		channels:     make(map[int]*channel),
		done:         make(chan struct{}),
	}
}

func namespaceURL(apiHost, namespace string) url.URL {
	switch {
	case strings.HasPrefix(apiHost, "https://"):
		return url.URL{Scheme: "wss", Host: strings.TrimPrefix(apiHost, "https://"), Path: "/" + namespace}
	case strings.HasPrefix(apiHost, "http://"):
		return url.URL{Scheme: "ws", Host: strings.TrimPrefix(apiHost, "http://"), Path: "/" + namespace}
	}
	return url.URL{Scheme: "ws", Host: apiHost, Path: "/" + namespace}
}

// connect dials and authenticates. Retries honour ctx.
func (nc *namespaceConnection) connect(ctx context.Context, apiHost string) error {
	u := namespaceURL(apiHost, nc.namespace)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	var conn *websocket.Conn
	var err error
	for retry := 0; retry < MaxConnectionRetries; retry++ {
		if retry > 0 {
			nc.logger.Info("Connection attempt %d/%d after waiting %d seconds...",
				retry+1, MaxConnectionRetries, ConnectionRetryDelaySec)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ConnectionRetryDelaySec * time.Second):
			}
		}

		nc.logger.Debug("Connecting to %s", u.String())
		conn, _, err = dialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			break
		}
		nc.logger.Warn("Connection attempt failed: %v", err)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s after %d attempts: %w", u.String(), MaxConnectionRetries, err)
	}

	if err := nc.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	nc.mu.Lock()
	nc.conn = conn
	nc.connected = true
	nc.mu.Unlock()

	go nc.handleMessages()

	nc.logger.Debug("Connected and authenticated to %s namespace", nc.namespace)
	return nil
}

func (nc *namespaceConnection) authenticate(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(15 * time.Second)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	authMsg := map[string]interface{}{
		"authVersion":      AuthVersion,
		"clientIdentifier": uuid.New().String(),
		"clientPasskey":    uuid.New().String(),
	}
	nc.logger.Trace("Sending authentication message to %s", nc.namespace)
	if err := conn.WriteJSON(authMsg); err != nil {
		return fmt.Errorf("failed to send authentication message: %w", err)
	}

	var resp struct {
		Success bool            `json:"success"`
		Error   json.RawMessage `json:"error,omitempty"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to reset read deadline: %w", err)
	}
	if !resp.Success {
		msg := "unknown error"
		if len(resp.Error) > 0 {
			msg = string(resp.Error)
		}
		return fmt.Errorf("authentication failed: %s", msg)
	}
	return nil
}

func (nc *namespaceConnection) isConnected() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.connected
}

// writeJSON serializes writers; gorilla allows one concurrent writer.
func (nc *namespaceConnection) writeJSON(v interface{}) error {
	nc.writeMu.Lock()
	defer nc.writeMu.Unlock()
	return nc.conn.WriteJSON(v)
}

// close sends a close frame and waits for the reader to exit.
func (nc *namespaceConnection) close() error {
	nc.mu.Lock()
	if !nc.connected || nc.conn == nil {
		nc.mu.Unlock()
		return nil
	}
	nc.connected = false
	conn := nc.conn
	nc.mu.Unlock()

	nc.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	nc.writeMu.Unlock()

	select {
	case <-nc.done:
	case <-time.After(250 * time.Millisecond):
	}
	err := conn.Close()
	<-nc.done
	return err
}

func (nc *namespaceConnection) handleMessages() {
	defer func() {
		nc.mu.Lock()
		nc.connected = false
		nc.mu.Unlock()
		close(nc.done)
	}()

	for {
		_, message, err := nc.conn.ReadMessage()
		if err != nil {
			if nc.isConnected() &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!strings.Contains(err.Error(), "use of closed network connection") {
				nc.logger.Error("Error reading message from %s: %v", nc.namespace, err)
			}
			return
		}

		nc.logger.Trace("Received raw message from %s: %s", nc.namespace, string(message))

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			nc.logger.Error("Error parsing message from %s: %v", nc.namespace, err)
			continue
		}

		switch {
		case env.Type == "":
			nc.logger.Error("Message has no type field from %s", nc.namespace)
		case env.Type == "communicationWarning":
			nc.logger.Warn("Communication issue from %s: %s", nc.namespace, env.Warning)
		case env.Type == "rpcResult" || env.Type == "rpcError":
			nc.routeCall(env)
		case strings.HasPrefix(env.Type, "channel"):
			nc.routeChannel(env)
		default:
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, message, "", "  "); err == nil {
				nc.logger.Trace("Received other message from %s: \n%s", nc.namespace, pretty.String())
			}
		}
	}
}

func (nc *namespaceConnection) routeCall(env envelope) {
	if env.CallID == nil {
		nc.logger.Error("RPC message missing callId from %s", nc.namespace)
		return
	}
	nc.mu.Lock()
	ch, ok := nc.pendingCalls[*env.CallID]
	delete(nc.pendingCalls, *env.CallID)
	nc.mu.Unlock()
	if !ok {
		nc.logger.Warn("Received response for unknown call ID %d from %s", *env.CallID, nc.namespace)
		return
	}
	ch <- env
}

func (nc *namespaceConnection) routeChannel(env envelope) {
	if env.ChannelID == nil {
		nc.logger.Error("Channel message missing channelId from %s: %s", nc.namespace, env.Type)
		return
	}
	nc.mu.Lock()
	ch, ok := nc.channels[*env.ChannelID]
	nc.mu.Unlock()
	if !ok {
		nc.logger.Debug("Received %s for unknown channel %d from %s", env.Type, *env.ChannelID, nc.namespace)
		return
	}
	ch.deliver(env)
}

// RemoteCall makes a remote procedure call and returns the raw result.
func (nc *namespaceConnection) RemoteCall(ctx context.Context, endpoint string, params interface{}) (json.RawMessage, error) {
	nc.mu.Lock()
	if !nc.connected {
		nc.mu.Unlock()
		return nil, fmt.Errorf("not connected to %s namespace", nc.namespace)
	}
	id := nc.nextCallID
	nc.nextCallID++
	ch := make(chan envelope, 1)
	nc.pendingCalls[id] = ch
	nc.mu.Unlock()

	forget := func() {
		nc.mu.Lock()
		delete(nc.pendingCalls, id)
		nc.mu.Unlock()
	}

	rpcMsg := map[string]interface{}{
		"type":     "rpcCall",
		"endpoint": endpoint,
		"callId":   id,
	}
	if params != nil {
		rpcMsg["parameter"] = params
	}
	nc.logger.Debug("Sending RPC call %s/%s (id %d)", nc.namespace, endpoint, id)

	if err := nc.writeJSON(rpcMsg); err != nil {
		forget()
		return nil, fmt.Errorf("failed to send RPC message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, RPCTimeoutSec*time.Second)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Type == "rpcError" {
			rerr := resp.Error
			if rerr == nil {
				rerr = &remoteError{}
			}
			nc.logger.Error("RPC error from %s/%s: %s", nc.namespace, endpoint, rerr.Error())
			return nil, rerr
		}
		if len(resp.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Result, nil
	case <-nc.done:
		forget()
		return nil, fmt.Errorf("RPC call %s: %w", endpoint, errConnectionClosed)
	case <-ctx.Done():
		forget()
		return nil, fmt.Errorf("RPC call %s: %w", endpoint, ctx.Err())
	}
}
