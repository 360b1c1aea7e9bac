package command

import (
	"context"

	"dreamfield.world/internal/protocol"
	"dreamfield.world/internal/sim/aoi"
)

// Flexible is the generative fallback for actions no fast handler claims.
// Interpret receives a read-only snapshot of what the player can see and
// must honor ctx cancellation; it never touches shared state directly.
type Flexible interface {
	Interpret(ctx context.Context, userID string, env protocol.CommandEnvelope, view aoi.View) (Interpretation, error)
}

// Interpretation is the decided outcome of a flexible command: a narrated
// message plus the exact writes to apply. Writes use the same path syntax as
// the rest of the state layer.
type Interpretation struct {
	Message string
	Writes  []Write
}

type Write struct {
	Path  string
	Value any
}

// FlexibleFunc adapts a plain function to the Flexible interface.
type FlexibleFunc func(ctx context.Context, userID string, env protocol.CommandEnvelope, view aoi.View) (Interpretation, error)

func (f FlexibleFunc) Interpret(ctx context.Context, userID string, env protocol.CommandEnvelope, view aoi.View) (Interpretation, error) {
	return f(ctx, userID, env, view)
}
