package gateway

import "github.com/MrWong99/voxgate/internal/protocol"

// chatTurn is one entry of the per-connection chat history. Interrupted marks
// an assistant turn the user barged in on, so renewal flows can label it.
type chatTurn struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// appendTurn adds text to the history, concatenating consecutive fragments of
// the same role into one turn. Callers hold c.mu.
func (c *connection) appendTurn(role, content string) {
	if content == "" {
		return
	}
	if n := len(c.history); n > 0 && c.history[n-1].Role == role && !c.history[n-1].Interrupted {
		c.history[n-1].Content += content
		return
	}
	c.history = append(c.history, chatTurn{Role: role, Content: content})
}

// markInterrupted flags the most recent assistant turn. Callers hold c.mu.
func (c *connection) markInterrupted() {
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == protocol.RoleAssistant {
			c.history[i].Interrupted = true
			return
		}
	}
}

// History returns a snapshot of the chat history.
func (c *connection) History() []chatTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chatTurn, len(c.history))
	copy(out, c.history)
	return out
}
