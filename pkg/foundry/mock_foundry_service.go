package foundry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

type mockModel struct {
	ModelKey          string `json:"modelKey"`
	DisplayName       string `json:"displayName"`
	InstanceReference string `json:"instanceReference"`
	Format            string `json:"format"`
	Size              int64  `json:"sizeBytes"`
	cached            bool
	loaded            bool
}

// MockFoundryService is an in-process inference service for tests. It serves
// the websocket namespaces, the model listing probed by discovery and a
// streaming chat completions endpoint.
type MockFoundryService struct {
	*httptest.Server

	t      *testing.T
	logger logging.Logger

	mu            sync.Mutex
	models        []*mockModel
	tokens        []string
	loadFailures  map[string]string
	loadStalls    map[string]bool
	loadCalls     int
	downloadCalls int
	lastChat      []ChatMessage
}

// NewMockFoundryService starts a mock service with a three-model catalog of
// which only the first model is cached.
func NewMockFoundryService(t *testing.T, logger logging.Logger) *MockFoundryService {
	t.Helper()

	m := &MockFoundryService{
		t:      t,
		logger: logging.OrDefault(logger),
		models: []*mockModel{
			{ModelKey: "phi-3.5-mini", DisplayName: "Phi-3.5 Mini", Format: "onnx", Size: 2 << 30, cached: true},
			{ModelKey: "qwen2.5-0.5b", DisplayName: "Qwen2.5 0.5B", Format: "onnx", Size: 1 << 29},
			{ModelKey: "mistral-7b", DisplayName: "Mistral 7B", Format: "onnx", Size: 4 << 30},
		},
		tokens:       []string{"Hello", "", ", ", "world", "!"},
		loadFailures: make(map[string]string),
		loadStalls:   make(map[string]bool),
	}
	for _, model := range m.models {
		model.InstanceReference = "inst-" + model.ModelKey
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", m.handleModels)
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/", m.handleWebsocket)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// Host returns the host:port the service listens on.
func (m *MockFoundryService) Host() string {
	return strings.TrimPrefix(m.URL, "http://")
}

// SetTokens replaces the fragments streamed by both completion transports.
func (m *MockFoundryService) SetTokens(tokens ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens
}

// FailLoad makes loading modelKey fail with msg.
func (m *MockFoundryService) FailLoad(modelKey, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadFailures[modelKey] = msg
}

// StallLoad makes loading modelKey never complete.
func (m *MockFoundryService) StallLoad(modelKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadStalls[modelKey] = true
}

func (m *MockFoundryService) LoadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCalls
}

func (m *MockFoundryService) DownloadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloadCalls
}

// LastChatMessages returns the conversation of the last completion request.
func (m *MockFoundryService) LastChatMessages() []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatMessage(nil), m.lastChat...)
}

func (m *MockFoundryService) find(match func(*mockModel) bool) *mockModel {
	for _, model := range m.models {
		if match(model) {
			return model
		}
	}
	return nil
}

func (m *MockFoundryService) snapshot(filter func(*mockModel) bool) []mockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []mockModel{}
	for _, model := range m.models {
		if filter(model) {
			out = append(out, *model)
		}
	}
	return out
}

func (m *MockFoundryService) handleModels(w http.ResponseWriter, r *http.Request) {
	var data []map[string]string
	for _, model := range m.snapshot(func(mm *mockModel) bool { return mm.cached }) {
		data = append(data, map[string]string{"id": model.ModelKey, "object": "model"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data})
}

func (m *MockFoundryService) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string        `json:"model"`
		Messages []ChatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.lastChat = req.Messages
	tokens := append([]string(nil), m.tokens...)
	loaded := m.find(func(mm *mockModel) bool { return mm.ModelKey == req.Model && mm.loaded }) != nil
	m.mu.Unlock()

	if !loaded {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model " + req.Model + " is not loaded", "type": "invalid_request_error"},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, token := range tokens {
		chunk := map[string]interface{}{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": 0,
			"model":   req.Model,
			"choices": []map[string]interface{}{
				{"index": 0, "delta": map[string]string{"content": token}},
			},
		}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (m *MockFoundryService) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.t.Logf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	var authMsg map[string]interface{}
	if err := conn.ReadJSON(&authMsg); err != nil {
		m.t.Logf("Failed to read auth message: %v", err)
		return
	}
	if err := conn.WriteJSON(map[string]interface{}{"success": true}); err != nil {
		return
	}

	for {
		var msg struct {
			Type              string                 `json:"type"`
			Endpoint          string                 `json:"endpoint"`
			CallID            int                    `json:"callId"`
			ChannelID         int                    `json:"channelId"`
			Parameter         map[string]interface{} `json:"parameter"`
			CreationParameter map[string]interface{} `json:"creationParameter"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			m.logger.Debug("Mock service: connection closed: %v", err)
			return
		}
		m.logger.Trace("Mock service: %s %s", msg.Type, msg.Endpoint)

		var err error
		switch {
		case msg.Type == "rpcCall":
			err = m.handleRPC(conn, msg.CallID, msg.Endpoint, msg.Parameter)
		case msg.Type == "channelCreate" && msg.Endpoint == DownloadModelEndpoint:
			err = m.handleDownload(conn, msg.ChannelID, msg.CreationParameter)
		case msg.Type == "channelCreate" && msg.Endpoint == LoadModelEndpoint:
			err = m.handleLoad(conn, msg.ChannelID, msg.CreationParameter)
		case msg.Type == "channelCreate" && msg.Endpoint == PredictEndpoint:
			err = m.handlePredict(conn, msg.ChannelID, msg.CreationParameter)
		default:
			m.logger.Trace("Mock service: unhandled message %s", msg.Type)
		}
		if err != nil {
			m.logger.Debug("Mock service: write failed: %v", err)
			return
		}
	}
}

func (m *MockFoundryService) handleRPC(conn *websocket.Conn, callID int, endpoint string, param map[string]interface{}) error {
	var result interface{}
	switch endpoint {
	case ListDownloadedEndpoint:
		result = m.snapshot(func(mm *mockModel) bool { return mm.cached })
	case ListCatalogEndpoint:
		result = m.snapshot(func(mm *mockModel) bool { return true })
	case ListLoadedEndpoint:
		result = m.snapshot(func(mm *mockModel) bool { return mm.loaded })
	case UnloadModelEndpoint:
		id, _ := param["identifier"].(string)
		m.mu.Lock()
		if model := m.find(func(mm *mockModel) bool { return mm.ModelKey == id || mm.InstanceReference == id }); model != nil {
			model.loaded = false
		}
		m.mu.Unlock()
		result = map[string]bool{"success": true}
	default:
		return conn.WriteJSON(map[string]interface{}{
			"type":   "rpcError",
			"callId": callID,
			"error":  map[string]string{"title": "Unknown endpoint " + endpoint},
		})
	}
	return conn.WriteJSON(map[string]interface{}{"type": "rpcResult", "callId": callID, "result": result})
}

func channelSend(conn *websocket.Conn, channelID int, message interface{}) error {
	return conn.WriteJSON(map[string]interface{}{"type": "channelSend", "channelId": channelID, "message": message})
}

func channelError(conn *websocket.Conn, channelID int, msg string) error {
	return conn.WriteJSON(map[string]interface{}{
		"type":      "channelError",
		"channelId": channelID,
		"error":     map[string]string{"title": msg},
	})
}

func (m *MockFoundryService) handleDownload(conn *websocket.Conn, channelID int, param map[string]interface{}) error {
	key, _ := param["modelKey"].(string)
	m.mu.Lock()
	m.downloadCalls++
	model := m.find(func(mm *mockModel) bool { return mm.ModelKey == key })
	m.mu.Unlock()
	if model == nil {
		return channelError(conn, channelID, "Model not found in catalog: "+key)
	}

	for _, progress := range []float64{0, 0.25, 0.5, 0.75, 1} {
		if err := channelSend(conn, channelID, map[string]interface{}{"type": "progress", "progress": progress}); err != nil {
			return err
		}
	}
	m.mu.Lock()
	model.cached = true
	m.mu.Unlock()
	return channelSend(conn, channelID, map[string]interface{}{"type": "success"})
}

func (m *MockFoundryService) handleLoad(conn *websocket.Conn, channelID int, param map[string]interface{}) error {
	key, _ := param["modelKey"].(string)
	m.mu.Lock()
	m.loadCalls++
	model := m.find(func(mm *mockModel) bool { return mm.ModelKey == key })
	failure, fail := m.loadFailures[key]
	stall := m.loadStalls[key]
	switch {
	case model == nil:
		fail, failure = true, "Model not found: "+key
	case !model.cached:
		fail, failure = true, "Model is not downloaded: "+key
	}
	if !fail && !stall {
		model.loaded = true
	}
	m.mu.Unlock()

	if fail {
		return channelError(conn, channelID, failure)
	}
	if err := channelSend(conn, channelID, map[string]interface{}{"type": "resolved"}); err != nil {
		return err
	}
	for _, progress := range []float64{0.1, 0.5, 1.0} {
		if err := channelSend(conn, channelID, map[string]interface{}{"type": "progress", "progress": progress}); err != nil {
			return err
		}
	}
	if stall {
		return nil
	}
	return channelSend(conn, channelID, map[string]interface{}{
		"type": "success",
		"info": map[string]string{
			"identifier":        model.ModelKey,
			"instanceReference": model.InstanceReference,
			"displayName":       model.DisplayName,
		},
	})
}

func (m *MockFoundryService) handlePredict(conn *websocket.Conn, channelID int, param map[string]interface{}) error {
	specifier, _ := param["modelSpecifier"].(map[string]interface{})
	ref, _ := specifier["instanceReference"].(string)

	m.mu.Lock()
	model := m.find(func(mm *mockModel) bool { return mm.InstanceReference == ref && mm.loaded })
	tokens := append([]string(nil), m.tokens...)
	m.lastChat = nil
	if history, ok := param["history"].(map[string]interface{}); ok {
		msgs, _ := history["messages"].([]interface{})
		for _, raw := range msgs {
			entry, _ := raw.(map[string]interface{})
			role, _ := entry["role"].(string)
			var text string
			parts, _ := entry["content"].([]interface{})
			for _, p := range parts {
				part, _ := p.(map[string]interface{})
				s, _ := part["text"].(string)
				text += s
			}
			m.lastChat = append(m.lastChat, ChatMessage{Role: role, Content: text})
		}
	}
	m.mu.Unlock()

	if model == nil {
		return channelError(conn, channelID, "No loaded model for instance "+ref)
	}
	for _, token := range tokens {
		if err := channelSend(conn, channelID, map[string]interface{}{
			"type":     "fragment",
			"fragment": map[string]string{"content": token},
		}); err != nil {
			return err
		}
	}
	if err := channelSend(conn, channelID, map[string]interface{}{"type": "success"}); err != nil {
		return err
	}
	return conn.WriteJSON(map[string]interface{}{"type": "channelClose", "channelId": channelID})
}
