package foundry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// errChannelClosed is returned by recv once the service closed the channel.
var errChannelClosed = errors.New("channel closed by service")

// channelPayload is the body of a channelSend message.
type channelPayload struct {
	Type     string   `json:"type"`
	Progress float64  `json:"progress,omitempty"`
	Token    string   `json:"token,omitempty"`
	Fragment *struct {
		Content string `json:"content"`
	} `json:"fragment,omitempty"`
	Info *struct {
		Identifier        string `json:"identifier"`
		InstanceReference string `json:"instanceReference"`
		DisplayName       string `json:"displayName"`
	} `json:"info,omitempty"`
}

// channel is a server-streamed exchange opened with channelCreate. Messages
// are delivered in arrival order; the reader blocks while the buffer is full.
type channel struct {
	id        int
	endpoint  string
	conn      *namespaceConnection
	messages  chan envelope
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	finished  bool // service already closed its side
}

// openChannel registers a channel and sends the channelCreate frame.
func (nc *namespaceConnection) openChannel(endpoint string, creation interface{}) (*channel, error) {
	nc.mu.Lock()
	if !nc.connected {
		nc.mu.Unlock()
		return nil, fmt.Errorf("not connected to %s namespace", nc.namespace)
	}
	nc.nextChanID++
	ch := &channel{
		id:       nc.nextChanID,
		endpoint: endpoint,
		conn:     nc,
		messages: make(chan envelope, channelBufferSize),
		closed:   make(chan struct{}),
	}
	nc.channels[ch.id] = ch
	nc.mu.Unlock()

	createMsg := map[string]interface{}{
		"type":              "channelCreate",
		"channelId":         ch.id,
		"endpoint":          endpoint,
		"creationParameter": creation,
	}
	nc.logger.Debug("Creating %s channel %d on %s", endpoint, ch.id, nc.namespace)
	if err := nc.writeJSON(createMsg); err != nil {
		ch.unregister()
		return nil, fmt.Errorf("failed to create %s channel: %w", endpoint, err)
	}
	return ch, nil
}

func (ch *channel) deliver(env envelope) {
	select {
	case ch.messages <- env:
	case <-ch.closed:
	}
}

// recv returns the next payload. Service errors and closure surface as errors;
// channelClose yields errChannelClosed.
func (ch *channel) recv(ctx context.Context) (channelPayload, error) {
	for {
		var env envelope
		select {
		case env = <-ch.messages:
		case <-ctx.Done():
			return channelPayload{}, ctx.Err()
		case <-ch.conn.done:
			// drain anything routed before the reader went away
			select {
			case env = <-ch.messages:
			default:
				return channelPayload{}, errConnectionClosed
			}
		}

		switch env.Type {
		case "channelSend":
			var p channelPayload
			if err := json.Unmarshal(env.Message, &p); err != nil {
				ch.conn.logger.Error("Channel %d: malformed message: %v", ch.id, err)
				continue
			}
			ch.conn.logger.Trace("Channel %d: %s", ch.id, p.Type)
			return p, nil
		case "channelError":
			ch.markFinished()
			if env.Error != nil {
				return channelPayload{}, env.Error
			}
			var content struct {
				Error *remoteError `json:"error"`
			}
			if err := json.Unmarshal(env.Message, &content); err == nil && content.Error != nil {
				return channelPayload{}, content.Error
			}
			return channelPayload{}, &remoteError{}
		case "channelClose":
			ch.markFinished()
			return channelPayload{}, errChannelClosed
		default:
			ch.conn.logger.Trace("Channel %d: ignoring %s", ch.id, env.Type)
		}
	}
}

func (ch *channel) markFinished() {
	ch.mu.Lock()
	ch.finished = true
	ch.mu.Unlock()
}

func (ch *channel) unregister() {
	ch.conn.mu.Lock()
	delete(ch.conn.channels, ch.id)
	ch.conn.mu.Unlock()
}

// close releases the channel, telling the service to stop if it has not
// finished on its own. Safe to call more than once.
func (ch *channel) close() {
	ch.closeOnce.Do(func() {
		ch.unregister()
		close(ch.closed)

		ch.mu.Lock()
		finished := ch.finished
		ch.mu.Unlock()
		if finished || !ch.conn.isConnected() {
			return
		}
		if err := ch.conn.writeJSON(map[string]interface{}{
			"type":      "channelClose",
			"channelId": ch.id,
		}); err != nil {
			ch.conn.logger.Debug("Failed to close channel %d: %v", ch.id, err)
		}
	})
}
