package model

import (
	"context"

	ctxpkg "github.com/stupiduntilnot/freepsy/internal/context"
)

// Provider is the completion abstraction used by the bot. Complete never
// fails: errors come back as a user-facing apology, and the text is never
// empty.
type Provider interface {
	Complete(ctx context.Context, messages []ctxpkg.Message, model string) string
}
