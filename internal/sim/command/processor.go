package command

import (
	"context"
	"fmt"
	"log"
	"time"

	"dreamfield.world/internal/protocol"
	"dreamfield.world/internal/sim/aoi"
	"dreamfield.world/internal/sim/state"
)

// Handler is a fast, deterministic command handler registered by exact action
// name. Handlers validate their inputs before mutating and answer invalid
// input with success=false plus an actionable message, never a panic.
type Handler func(ctx *Context, env protocol.CommandEnvelope) protocol.CommandResult

// Context is what a handler gets to work with for one command.
type Context struct {
	Ctx    context.Context
	UserID string
	Store  *state.Store
	AOI    *aoi.Builder
	Logger *log.Logger
}

// Processor routes inbound commands: a registered fast handler runs
// synchronously; anything else falls back to the flexible handler, which may
// take seconds and therefore never runs while holding the store's mutation
// lock. Both paths produce the same CommandResult shape and both publish
// deltas through the store's ordinary mutation side effect.
type Processor struct {
	store    *state.Store
	aoi      *aoi.Builder
	handlers map[string]Handler
	flexible Flexible
	timeout  time.Duration
	logger   *log.Logger
}

func NewProcessor(store *state.Store, builder *aoi.Builder, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	p := &Processor{
		store:    store,
		aoi:      builder,
		handlers: map[string]Handler{},
		timeout:  15 * time.Second,
		logger:   logger,
	}
	registerBuiltins(p)
	return p
}

func (p *Processor) Experience() string { return p.store.Experience() }

// SetFlexible installs the generative fallback with its caller-visible
// timeout.
func (p *Processor) SetFlexible(f Flexible, timeout time.Duration) {
	p.flexible = f
	if timeout > 0 {
		p.timeout = timeout
	}
}

func (p *Processor) Register(action string, h Handler) {
	p.handlers[action] = h
}

func (p *Processor) Process(ctx context.Context, userID string, env protocol.CommandEnvelope) protocol.CommandResult {
	if env.Type != protocol.TypeAction {
		return protocol.Failure(protocol.ErrProtoBadRequest,
			fmt.Sprintf("unexpected message type %q", env.Type))
	}
	if env.Action == "" {
		return protocol.Failure(protocol.ErrBadRequest, "missing action")
	}

	if h, ok := p.handlers[env.Action]; ok {
		return h(&Context{Ctx: ctx, UserID: userID, Store: p.store, AOI: p.aoi, Logger: p.logger}, env)
	}
	if p.flexible != nil {
		return p.runFlexible(ctx, userID, env)
	}
	return protocol.Failure(protocol.ErrNotSupported,
		fmt.Sprintf("action %q is not supported here", env.Action))
}

func (p *Processor) runFlexible(ctx context.Context, userID string, env protocol.CommandEnvelope) protocol.CommandResult {
	// Snapshot the player's view up-front; interpretation runs against this
	// read-only copy, outside the mutation lock.
	view, err := p.aoi.Build(userID, false)
	if err != nil {
		return protocol.Failure(protocol.ErrNotFound,
			fmt.Sprintf("unknown player %q", userID))
	}

	ictx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		interp Interpretation
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		interp, err := p.flexible.Interpret(ictx, userID, env, view)
		ch <- outcome{interp, err}
	}()

	select {
	case <-ictx.Done():
		// The mutation lock was never taken; nothing to undo.
		return protocol.Failure(protocol.ErrTimeout, "That took too long to work out. Try a simpler phrasing.")
	case out := <-ch:
		if out.err != nil {
			p.logger.Printf("flexible interpret user=%s action=%q: %v", userID, env.Action, out.err)
			return protocol.Failure(protocol.ErrInternal, "Something went wrong interpreting that.")
		}
		return p.applyInterpretation(userID, out.interp)
	}
}

// applyInterpretation re-enters the mutation critical section only for the
// final, already-decided state writes.
func (p *Processor) applyInterpretation(userID string, interp Interpretation) protocol.CommandResult {
	if len(interp.Writes) == 0 {
		return protocol.CommandResult{Success: true, MessageToPlayer: interp.Message}
	}

	changes := map[string]any{}
	_, err := p.store.Mutate(func(tx *state.Tx) error {
		for _, w := range interp.Writes {
			if _, err := tx.Set(w.Path, w.Value); err != nil {
				return err
			}
			changes[w.Path] = w.Value
		}
		return nil
	})
	if err != nil {
		p.logger.Printf("flexible write user=%s: %v", userID, err)
		return protocol.Failure(codeForError(err), interp.Message+" (but the world didn't change)")
	}
	return protocol.CommandResult{
		Success:         true,
		MessageToPlayer: interp.Message,
		StateChanges:    changes,
	}
}

func codeForError(err error) string {
	switch err.(type) {
	case *state.TypeMismatchError:
		return protocol.ErrTypeMismatch
	case *state.ConflictError:
		return protocol.ErrConflict
	}
	return protocol.ErrBadRequest
}
