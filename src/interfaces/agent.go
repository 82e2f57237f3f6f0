package interfaces

import (
	"context"

	"finance-relay/src/models"
)

// IAgent is the AI collaborator consumed by the relay.
type IAgent interface {
	// StreamTurn produces the agent's response to message given the
	// session history. The returned channel is closed at end-of-turn.
	// The stream is single-consumption and not restartable; a failed
	// turn surfaces through the error return or a closed channel after
	// an error token.
	StreamTurn(ctx context.Context, history []models.MTurn, message models.MTurn) (<-chan models.MAgentEvent, error)
}
