package stream

import "context"

// Client is a connected streaming consumer.
//
// Send receives one JSON payload. A failing Send deregisters the client.
// Clients are kept in a set keyed by identity, so implementations must be
// comparable (pointer types in practice).
type Client interface {
	Send(ctx context.Context, payload []byte) error
}
