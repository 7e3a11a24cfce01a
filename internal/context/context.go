package context

// Provider persists and retrieves a user's conversation log.
type Provider interface {
	Append(userID int64, role, content string) error
	FetchOrdered(userID int64) ([]StoredMessage, error)
	DeleteAll(userID int64) (int64, error)
}

// Compressor selects the part of a conversation that fits a token budget.
type Compressor interface {
	Compress(history []StoredMessage, budget int) []Message
}
