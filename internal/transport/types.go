package transport

import "context"

// Voice is an audio artifact ready for the wire, sent as a voice message.
type Voice struct {
	Path    string
	Caption string
}

// Sender is the delivery capability the dispatcher depends on.
//
// Target is either a numeric chat id or an "@username". Implementations must
// be safe for concurrent use: different destinations dispatch in parallel.
type Sender interface {
	SendVoice(ctx context.Context, token, target string, voice Voice) error
	TestConnection(ctx context.Context, token string) error
}
