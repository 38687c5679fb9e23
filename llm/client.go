package llm

import (
	"context"
	"time"
)

// Client is the minimal chat-completion surface the bot depends on.
// Providers live under providers/ and adapt a concrete SDK to this contract.
type Client interface {
	Chat(ctx context.Context, req Request) (Response, error)
}

type Request struct {
	Model     string
	Messages  []Message
	ForceJSON bool
}

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Text     string
	Duration time.Duration
}
