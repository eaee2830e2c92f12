// ABOUTME: The adaptive step loop: plan, guard, confirm, dispatch, record, summarize, decide.
// ABOUTME: Repetition guards soft-block immediate repeats and hard-stop runaway loops.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/porterhq/porter/router"
	"github.com/porterhq/porter/tokens"
	"github.com/porterhq/porter/tools"
	"github.com/porterhq/porter/transcript"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

const (
	softBlockThreshold = 2
	hardStopThreshold  = 4
)

// Model is the narrow planning interface the loop consumes.
type Model interface {
	PlanNext(ctx context.Context, goal, osTag string, catalog []tools.Descriptor, history []transcript.Entry) (*transcript.ToolCall, error)
	StepSummary(ctx context.Context, goal string, call *transcript.ToolCall, result transcript.Envelope) (string, error)
	FinalSummary(ctx context.Context, goal string, history []transcript.Entry, sink func(string)) (string, error)
}

// Recorder receives every appended history entry for durable audit.
type Recorder interface {
	Record(sessionID string, step int, entry transcript.Entry, elapsed time.Duration)
}

// RunOptions tunes a single loop invocation.
type RunOptions struct {
	MaxSteps     int
	AutoContinue bool
}

// Outcome is the terminal result of a run.
type Outcome struct {
	Status       Status             `json:"status"`
	Results      []transcript.Entry `json:"results"`
	FinalSummary string             `json:"final_summary"`
}

// Loop executes goals step by step against the router and the model.
type Loop struct {
	router     *router.Router
	model      Model
	window     *tokens.Window
	interactor Interactor
	emitter    *EventEmitter
	recorder   Recorder
	logger     *log.Logger

	osTag                   string
	dangerous               map[string]bool
	shellConfirm            bool
	autoContinueDangerous   bool
	autoContinueInteractive bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithWindow sets the token budget applied to history before model calls.
func WithWindow(w *tokens.Window) LoopOption {
	return func(l *Loop) { l.window = w }
}

// WithInteractor sets the user-interaction channel.
func WithInteractor(i Interactor) LoopOption {
	return func(l *Loop) { l.interactor = i }
}

// WithEmitter sets the run event emitter.
func WithEmitter(e *EventEmitter) LoopOption {
	return func(l *Loop) { l.emitter = e }
}

// WithRecorder sets the audit recorder.
func WithRecorder(r Recorder) LoopOption {
	return func(l *Loop) { l.recorder = r }
}

// WithLogger sets the loop's logger.
func WithLogger(logger *log.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithOSTag overrides the operating system tag passed to the planner.
func WithOSTag(tag string) LoopOption {
	return func(l *Loop) { l.osTag = tag }
}

// WithDangerousTools sets which tool names require confirmation.
func WithDangerousTools(names []string) LoopOption {
	return func(l *Loop) {
		l.dangerous = make(map[string]bool, len(names))
		for _, n := range names {
			l.dangerous[n] = true
		}
	}
}

// WithSecurityPolicy sets the confirmation policy flags.
func WithSecurityPolicy(shellConfirm, autoContinueDangerous, autoContinueInteractive bool) LoopOption {
	return func(l *Loop) {
		l.shellConfirm = shellConfirm
		l.autoContinueDangerous = autoContinueDangerous
		l.autoContinueInteractive = autoContinueInteractive
	}
}

// NewLoop builds a step loop over the given router and model.
func NewLoop(rt *router.Router, model Model, opts ...LoopOption) *Loop {
	l := &Loop{
		router:       rt,
		model:        model,
		interactor:   &AutoInteractor{},
		logger:       log.Default(),
		osTag:        runtime.GOOS,
		dangerous:    map[string]bool{"execute_shell": true, "start_process": true},
		shellConfirm: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// fit truncates history to the token budget. Without a window the full
// history passes through.
func (l *Loop) fit(history []transcript.Entry) []transcript.Entry {
	if l.window == nil {
		return history
	}
	fitted, _ := l.window.Fit(history)
	return fitted
}

func (l *Loop) emit(kind EventKind, sessionID string, data map[string]any) {
	if l.emitter != nil {
		l.emitter.Emit(kind, sessionID, data)
	}
}

func (l *Loop) record(sessionID string, step int, entry transcript.Entry, elapsed time.Duration) {
	if l.recorder != nil {
		l.recorder.Record(sessionID, step, entry, elapsed)
	}
}

// Run executes the step loop until the model signals completion, a guard
// fires, the user stops it, or max steps elapse. Cancellation is honored
// before every model call; the loop then returns stopped without appending
// further entries.
func (l *Loop) Run(ctx context.Context, session *Session, opts RunOptions) Outcome {
	if opts.MaxSteps < 1 {
		opts.MaxSteps = 10
	}
	goal := session.CurrentGoal()
	l.emit(EventRunStart, session.ID, map[string]any{"goal": goal, "max_steps": opts.MaxSteps})

	step := 0
	status := StatusSuccess
	// lastExecuted is the signature of the previous successfully executed
	// call; proposedSig/proposedCount track consecutive identical proposals.
	lastExecuted := ""
	proposedSig := ""
	proposedCount := 0

	for {
		if ctx.Err() != nil {
			return l.finish(session, StatusStopped, "")
		}
		if step >= opts.MaxSteps {
			l.logger.Printf("component=agent action=max_steps session=%s steps=%d", session.ID, step)
			status = StatusStopped
			break
		}
		l.emit(EventStepStart, session.ID, map[string]any{"step": step})

		// Plan.
		catalog := l.router.Catalog(ctx)
		call, err := l.model.PlanNext(ctx, goal, l.osTag, catalog, l.fit(session.Snapshot()))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return l.finish(session, StatusStopped, "")
			}
			l.logger.Printf("component=agent action=plan_failed session=%s err=%v", session.ID, err)
			return l.finish(session, StatusError, fmt.Sprintf("planning failed: %v", err))
		}
		if call == nil {
			break
		}

		// Signature and repetition guard.
		sig := call.Signature()
		if sig == proposedSig {
			proposedCount++
		} else {
			proposedSig = sig
			proposedCount = 1
		}
		if proposedCount >= hardStopThreshold {
			rationale := fmt.Sprintf("aborted due to repetition: %s proposed %d times in a row", call.Name, proposedCount)
			entry := transcript.NoticeEntry(transcript.NoticeLoopAborted, rationale, transcript.StatusError)
			l.append(session, step, entry, 0)
			l.interactor.Notify(rationale)
			return l.finish(session, StatusError, rationale)
		}
		if proposedCount >= softBlockThreshold && sig == lastExecuted {
			text := fmt.Sprintf("repeated call %s rejected; pick a different action next step", sig)
			entry := transcript.NoticeEntry(transcript.NoticeRepeatRejected, text, transcript.StatusInfo)
			l.append(session, step, entry, 0)
			l.interactor.Notify(text)
			lastExecuted = ""
			step++
			continue
		}

		// Dangerous-tool gate.
		if l.dangerous[call.Name] && l.shellConfirm && !l.autoContinueDangerous {
			ok, err := l.interactor.ConfirmDangerous(ctx, sig)
			if err != nil || !ok {
				entry := transcript.CallEntry(*call, transcript.Cancelled("rejected by user"))
				l.append(session, step, entry, 0)
				lastExecuted = ""
				step++
				continue
			}
		}

		// Dispatch.
		l.emit(EventToolCall, session.ID, map[string]any{"tool": call.Name, "step": step})
		started := time.Now()
		env, err := l.router.Call(ctx, call.Name, call.Arguments)
		elapsed := time.Since(started)
		if err != nil {
			// Router errors mean no provider lists the tool; give the model
			// one more planning step to pick a different one.
			text := fmt.Sprintf("no provider available for %s", call.Name)
			entry := transcript.NoticeEntry(transcript.NoticeRoutingFailed, text, transcript.StatusError)
			l.append(session, step, entry, elapsed)
			l.interactor.Notify(text)
			lastExecuted = ""
			step++
			continue
		}
		if env.Status == transcript.StatusSuccess {
			lastExecuted = sig
		} else {
			lastExecuted = ""
		}

		// Record.
		entry := transcript.CallEntry(*call, env)
		l.emit(EventToolResult, session.ID, map[string]any{"tool": call.Name, "status": string(env.Status)})

		// Intermediate summary.
		if summary, err := l.model.StepSummary(ctx, goal, call, env); err == nil {
			entry.Summary = summary
			l.interactor.SummaryChunk(summary)
		} else if errors.Is(err, context.Canceled) {
			l.append(session, step, entry, elapsed)
			return l.finish(session, StatusStopped, "")
		} else {
			l.logger.Printf("component=agent action=step_summary_failed session=%s err=%v", session.ID, err)
		}
		l.append(session, step, entry, elapsed)

		// User decision gate.
		if !opts.AutoContinue && !l.autoContinueInteractive {
			decision, err := l.interactor.NextDecision(ctx)
			if err != nil {
				return l.finish(session, StatusStopped, "")
			}
			switch decision.Command {
			case CommandStop:
				return l.finalize(ctx, session, goal, StatusStopped)
			case CommandEdit:
				if decision.Goal != "" {
					goal = decision.Goal
					session.SetGoal(goal)
					l.emit(EventGoalEdited, session.ID, map[string]any{"goal": goal})
				}
			case CommandClear:
				session.Clear()
			case CommandReplan, CommandContinue:
			}
		}

		step++
	}

	return l.finalize(ctx, session, goal, status)
}

// append adds exactly one history entry for the current step.
func (l *Loop) append(session *Session, step int, entry transcript.Entry, elapsed time.Duration) {
	session.Append(entry)
	l.record(session.ID, step, entry, elapsed)
	if entry.Notice != nil {
		l.emit(EventNotice, session.ID, map[string]any{"kind": string(entry.Notice.Kind), "text": entry.Notice.Text})
	}
}

// finalize produces the streamed final summary and offers to clear history.
// The outcome carries the results as they stood at termination, even when the
// user then clears the session.
func (l *Loop) finalize(ctx context.Context, session *Session, goal string, status Status) Outcome {
	if ctx.Err() != nil {
		return l.finish(session, StatusStopped, "")
	}
	results := session.Snapshot()
	summary, err := l.model.FinalSummary(ctx, goal, l.fit(results), l.interactor.SummaryChunk)
	if err != nil {
		l.logger.Printf("component=agent action=final_summary_failed session=%s err=%v", session.ID, err)
		summary = ""
	}
	if clear, err := l.interactor.ConfirmClear(ctx); err == nil && clear {
		session.Clear()
	}
	l.emit(EventRunEnd, session.ID, map[string]any{"status": string(status)})
	return Outcome{Status: status, Results: results, FinalSummary: summary}
}

// finish assembles the outcome without any further model calls.
func (l *Loop) finish(session *Session, status Status, summary string) Outcome {
	l.emit(EventRunEnd, session.ID, map[string]any{"status": string(status)})
	return Outcome{Status: status, Results: session.Snapshot(), FinalSummary: summary}
}
