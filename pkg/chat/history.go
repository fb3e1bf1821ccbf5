// Package chat owns the conversation with the loaded model.
package chat

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation.
type Turn struct {
	Role    Role
	Content string
}

// History is the ordered conversation for one loaded model. At most one
// system turn exists and, if present, it is the first element.
type History struct {
	turns []Turn
}

// HasSystemTurn reports whether the system prompt was injected.
func (h *History) HasSystemTurn() bool {
	return len(h.turns) > 0 && h.turns[0].Role == RoleSystem
}

// EnsureSystem inserts prompt as the first turn unless a system turn exists
// or prompt is empty. It reports whether a turn was inserted.
func (h *History) EnsureSystem(prompt string) bool {
	if prompt == "" || h.HasSystemTurn() {
		return false
	}
	h.turns = append([]Turn{{Role: RoleSystem, Content: prompt}}, h.turns...)
	return true
}

// AddUser appends a user turn.
func (h *History) AddUser(text string) {
	h.turns = append(h.turns, Turn{Role: RoleUser, Content: text})
}

// AddAssistant appends an assistant turn.
func (h *History) AddAssistant(text string) {
	h.turns = append(h.turns, Turn{Role: RoleAssistant, Content: text})
}

// Reset drops every turn, including the system turn.
func (h *History) Reset() {
	h.turns = nil
}

func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns a copy of the conversation.
func (h *History) Turns() []Turn {
	return append([]Turn(nil), h.turns...)
}

// Request returns the conversation to send to the model. A non-empty
// instruction is merged into the leading system turn of the copy only, so
// the stored history keeps its single system turn.
func (h *History) Request(instruction string) []Turn {
	turns := h.Turns()
	if instruction == "" {
		return turns
	}
	if len(turns) > 0 && turns[0].Role == RoleSystem {
		turns[0].Content += "\n\n" + instruction
		return turns
	}
	return append([]Turn{{Role: RoleSystem, Content: instruction}}, turns...)
}
