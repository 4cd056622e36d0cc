package ota

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	fsmutil "github.com/JonathanBrouwer/lightbringer/internal/pkg/util/fsm"
)

// Image-state events.
const (
	// EventBoot is applied by the bootloader each time it starts an image.
	EventBoot = "boot"
	// EventAccept confirms the running image.
	EventAccept = "accept"
	// EventReject marks the running image broken.
	EventReject = "reject"
)

var allStates = []string{
	StateNew.String(),
	StatePendingVerify.String(),
	StateValid.String(),
	StateInvalid.String(),
	StateAborted.String(),
	StateUndefined.String(),
}

var lifecycleEvents = fsm.Events{
	{Name: EventBoot, Src: []string{StateNew.String()}, Dst: StatePendingVerify.String()},
	{Name: EventBoot, Src: []string{StatePendingVerify.String()}, Dst: StateAborted.String()},
	{Name: EventAccept, Src: allStates, Dst: StateValid.String()},
	{Name: EventReject, Src: allStates, Dst: StateInvalid.String()},
}

// Transition applies event to an image in state from. onEnter, when not nil,
// runs after the state changed and its error is returned; it does not run
// when the event leaves the state unchanged or does not apply to from.
func Transition(ctx context.Context, from State, event string, onEnter func(ctx context.Context, to State) error) (State, error) {
	callbacks := fsm.Callbacks{}
	if onEnter != nil {
		callbacks["enter_state"] = fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			to, err := ParseState(e.Dst)
			if err != nil {
				return err
			}
			return onEnter(ctx, to)
		})
	}

	f := fsm.NewFSM(from.String(), lifecycleEvents, callbacks)
	if !f.Can(event) {
		return from, nil
	}
	if err := f.Event(ctx, event); fsmutil.IsRealError(err) {
		return from, fmt.Errorf("%s from %s: %w", event, from, err)
	}
	return ParseState(f.Current())
}

// CanBoot reports whether the boot event changes an image in state s.
func CanBoot(s State) bool {
	return fsm.NewFSM(s.String(), lifecycleEvents, fsm.Callbacks{}).Can(EventBoot)
}
