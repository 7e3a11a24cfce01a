package context

import "time"

// Chat roles accepted by the completion endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a model-agnostic chat message used across the context pipeline.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StoredMessage is a persisted conversation turn as returned by a Provider.
type StoredMessage struct {
	Role      string
	Content   string
	TokensEst int
	CreatedAt time.Time
}

// Tokens returns the stored estimate, recomputing it when the row predates
// token bookkeeping.
func (m StoredMessage) Tokens() int {
	if m.TokensEst >= 1 {
		return m.TokensEst
	}
	return EstimateTokens(m.Content)
}
