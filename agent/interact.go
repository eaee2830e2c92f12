// ABOUTME: The user-interaction channel: confirmations, step decisions, streamed text.
// ABOUTME: AutoInteractor serves headless runs; the CLI provides a terminal implementation.

package agent

import "context"

// UserCommand is the decision a user can make between steps.
type UserCommand string

const (
	CommandContinue UserCommand = "continue"
	CommandStop     UserCommand = "stop"
	CommandEdit     UserCommand = "edit"
	CommandReplan   UserCommand = "replan"
	CommandClear    UserCommand = "clear"
)

// Decision pairs a command with its argument (the new goal for edit).
type Decision struct {
	Command UserCommand
	Goal    string
}

// Interactor is the loop's channel to the user. Implementations must be safe
// to call from the goroutine running the loop.
type Interactor interface {
	// ConfirmDangerous asks whether a dangerous tool call may run.
	ConfirmDangerous(ctx context.Context, call string) (bool, error)

	// NextDecision reads the user's command after a completed step.
	NextDecision(ctx context.Context) (Decision, error)

	// ConfirmClear asks once, after the final summary, whether to clear
	// the session history for the next task.
	ConfirmClear(ctx context.Context) (bool, error)

	// SummaryChunk receives streamed summary text as it is produced.
	SummaryChunk(text string)

	// Notify carries loop status lines (notices, gate outcomes).
	Notify(text string)
}

// AutoInteractor drives runs with nobody at the keyboard: dangerous calls are
// declined unless explicitly allowed, steps always continue, history is kept.
type AutoInteractor struct {
	// AllowDangerous permits dangerous tools without a human in the loop.
	AllowDangerous bool

	// OnChunk, when set, receives streamed summary text.
	OnChunk func(string)
}

func (a *AutoInteractor) ConfirmDangerous(ctx context.Context, call string) (bool, error) {
	return a.AllowDangerous, nil
}

func (a *AutoInteractor) NextDecision(ctx context.Context) (Decision, error) {
	return Decision{Command: CommandContinue}, nil
}

func (a *AutoInteractor) ConfirmClear(ctx context.Context) (bool, error) {
	return false, nil
}

func (a *AutoInteractor) SummaryChunk(text string) {
	if a.OnChunk != nil {
		a.OnChunk(text)
	}
}

func (a *AutoInteractor) Notify(text string) {}
