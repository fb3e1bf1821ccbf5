package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistorySystemTurnOnce(t *testing.T) {
	var h History
	assert.False(t, h.EnsureSystem(""), "empty prompt is never injected")
	assert.True(t, h.EnsureSystem("be brief"))
	assert.False(t, h.EnsureSystem("be brief"))
	h.AddUser("hi")
	h.AddAssistant("hello")
	assert.False(t, h.EnsureSystem("other"))

	turns := h.Turns()
	assert.Equal(t, []Turn{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, turns)
	assert.True(t, h.HasSystemTurn())
}

func TestHistorySystemInsertedFirst(t *testing.T) {
	var h History
	h.AddUser("first")
	assert.True(t, h.EnsureSystem("sys"))
	assert.Equal(t, RoleSystem, h.Turns()[0].Role)
	assert.Equal(t, 2, h.Len())
}

func TestHistoryReset(t *testing.T) {
	var h History
	h.EnsureSystem("sys")
	h.AddUser("a")
	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.HasSystemTurn())
	assert.True(t, h.EnsureSystem("sys"), "reset permits re-injection")
}

func TestHistoryRequestInstruction(t *testing.T) {
	var h History
	h.AddUser("q")
	req := h.Request("cite [1]")
	assert.Equal(t, []Turn{{Role: RoleSystem, Content: "cite [1]"}, {Role: RoleUser, Content: "q"}}, req)
	assert.False(t, h.HasSystemTurn(), "instruction is not stored")

	h.EnsureSystem("sys")
	req = h.Request("cite [1]")
	assert.Len(t, req, 2)
	assert.Equal(t, "sys\n\ncite [1]", req[0].Content)
	assert.Equal(t, "sys", h.Turns()[0].Content)

	assert.Equal(t, h.Turns(), h.Request(""))
}
