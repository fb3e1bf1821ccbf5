package foundry

// ModelDescriptor describes a model known to the service. Values are never
// mutated after construction; a fresh query yields a fresh set.
type ModelDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsCached    bool   `json:"isCached"`
	Format      string `json:"format,omitempty"`
	Size        int64  `json:"sizeBytes,omitempty"`
}

// ActiveModel is a model loaded into the running service.
type ActiveModel struct {
	ModelID           string
	DisplayName       string
	Endpoint          string // base URL of the OpenAI-compatible completion API
	InstanceReference string
}

// DownloadProgress is one element of a download progress sequence.
type DownloadProgress struct {
	Percentage  float64 // 0-100
	IsCompleted bool
}

// ChatMessage is a single role/content turn sent to the predict channel.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireModel is the model record exchanged with the service.
type wireModel struct {
	ModelKey          string `json:"modelKey"`
	DisplayName       string `json:"displayName,omitempty"`
	Path              string `json:"path,omitempty"`
	Format            string `json:"format,omitempty"`
	Size              int64  `json:"sizeBytes,omitempty"`
	Identifier        string `json:"identifier,omitempty"`
	InstanceReference string `json:"instanceReference,omitempty"`
}

func (m wireModel) descriptor(cached bool) ModelDescriptor {
	name := m.DisplayName
	if name == "" {
		name = m.ModelKey
	}
	return ModelDescriptor{
		ID:          m.ModelKey,
		DisplayName: name,
		IsCached:    cached,
		Format:      m.Format,
		Size:        m.Size,
	}
}
