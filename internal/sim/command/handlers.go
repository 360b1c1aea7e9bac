package command

import (
	"errors"
	"fmt"
	"strings"

	"dreamfield.world/internal/protocol"
	"dreamfield.world/internal/sim/aoi"
	"dreamfield.world/internal/sim/state"
)

func registerBuiltins(p *Processor) {
	p.Register("go", handleGo)
	p.Register("collect", handleCollect)
	p.Register("take", handleCollect)
	p.Register("look", handleLook)
}

func handleGo(ctx *Context, env protocol.CommandEnvelope) protocol.CommandResult {
	dest, ok := destinationParam(env.Params)
	if !ok {
		return protocol.Failure(protocol.ErrBadRequest, "Go where? Name a destination.")
	}

	res, err := ctx.Store.Mutate(func(tx *state.Tx) error {
		return tx.MovePlayer(ctx.UserID, dest)
	})
	if err != nil {
		var ud *state.UnknownDestinationError
		if errors.As(err, &ud) {
			return protocol.Failure(protocol.ErrBadRequest,
				fmt.Sprintf("You can't go to %q from here. You can go to: %s.",
					dest, strings.Join(ud.Valid, ", ")))
		}
		if errors.Is(err, state.ErrNotFound) {
			return protocol.Failure(protocol.ErrNotFound, "You aren't anywhere yet.")
		}
		ctx.Logger.Printf("go user=%s dest=%s: %v", ctx.UserID, dest, err)
		return protocol.Failure(protocol.ErrInternal, "Something went wrong moving you.")
	}
	if len(res.Changes) == 0 {
		// Going to the area you are in is a no-op: no delta is published, so
		// the result must not claim a state change either.
		return protocol.CommandResult{
			Success:         true,
			MessageToPlayer: fmt.Sprintf("You are already in %s.", dest),
		}
	}
	return protocol.CommandResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You move to %s.", dest),
		StateChanges: map[string]any{
			fmt.Sprintf("players.%s.current_area", ctx.UserID): dest,
		},
	}
}

func handleCollect(ctx *Context, env protocol.CommandEnvelope) protocol.CommandResult {
	id, ok := itemParam(env.Params)
	if !ok {
		return protocol.Failure(protocol.ErrBadRequest, "Collect what? Name an item.")
	}

	// Collectibility comes from the template/instance merge, so check the
	// rendered view rather than the raw tree.
	view, err := ctx.AOI.Build(ctx.UserID, false)
	if err != nil {
		return protocol.Failure(protocol.ErrNotFound, "You aren't anywhere yet.")
	}
	var target *aoi.Entity
	for i := range view.Entities {
		if view.Entities[i].InstanceID == id {
			target = &view.Entities[i]
			break
		}
	}
	if target == nil {
		return protocol.Failure(protocol.ErrNotFound,
			fmt.Sprintf("There is no %q here.", id))
	}
	if !target.Collectible {
		return protocol.Failure(protocol.ErrBadRequest,
			fmt.Sprintf("%s can't be picked up.", displayName(*target)))
	}

	var collected *state.Instance
	_, err = ctx.Store.Mutate(func(tx *state.Tx) error {
		var cerr error
		collected, cerr = tx.CollectItem(ctx.UserID, id)
		return cerr
	})
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			// Gone between the view snapshot and the mutation.
			return protocol.Failure(protocol.ErrNotFound,
				fmt.Sprintf("%s is no longer here.", displayName(*target)))
		}
		ctx.Logger.Printf("collect user=%s item=%s: %v", ctx.UserID, id, err)
		return protocol.Failure(protocol.ErrInternal, "Something went wrong picking that up.")
	}
	return protocol.CommandResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You pick up %s.", displayName(*target)),
		StateChanges: map[string]any{
			fmt.Sprintf("players.%s.inventory[instance_id=%s]", ctx.UserID, id): collected.Clone(),
		},
	}
}

func handleLook(ctx *Context, env protocol.CommandEnvelope) protocol.CommandResult {
	view, err := ctx.AOI.Build(ctx.UserID, false)
	if err != nil {
		return protocol.Failure(protocol.ErrNotFound, "You aren't anywhere yet.")
	}
	var names []string
	for _, e := range view.Entities {
		names = append(names, displayName(e))
	}
	msg := fmt.Sprintf("You are in %s.", view.Area)
	if len(names) > 0 {
		msg += " You see: " + strings.Join(names, ", ") + "."
	}
	return protocol.CommandResult{Success: true, MessageToPlayer: msg}
}

func displayName(e aoi.Entity) string {
	if e.Name != "" {
		return e.Name
	}
	return e.InstanceID
}
