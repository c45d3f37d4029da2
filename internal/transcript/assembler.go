// Package transcript coalesces streamed text fragments into discrete,
// immutable messages.
//
// The remote session delivers transcription in small fragments with no
// alignment to utterance boundaries ("Hel", "lo"). The Assembler buffers
// fragments per speaking role and flushes closed messages according to one of
// two policies: the conversational mode flushes whenever the speaking role
// switches, so partial text surfaces while the user is still talking; the
// silent-monitor mode batches a full logical turn and flushes only on the
// protocol's turn-complete marker, since its rare status updates should
// surface as whole utterances.
//
// This package is internal because it encapsulates application-private
// assembly logic and is not intended for import by external code.
package transcript

import (
	"strings"
	"time"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one closed transcript message. It is immutable once emitted;
// the application owns it after emission.
type Message struct {
	Role Role
	Text string
	At   time.Time
}

// FlushPolicy selects when buffered fragments become closed messages.
type FlushPolicy int

const (
	// FlushOnRoleSwitch closes the open buffer whenever a fragment arrives
	// for a different role, and on turn-complete. Used by the conversational
	// mode so text renders incrementally.
	FlushOnRoleSwitch FlushPolicy = iota

	// FlushOnTurnComplete accumulates user and agent text independently and
	// closes both buffers only on the turn-complete marker. Used by the
	// silent-monitor mode.
	FlushOnTurnComplete
)

// Assembler is the per-session fragment coalescer. Emitted messages have
// surrounding whitespace trimmed; empty buffers are never emitted.
//
// Assembler is not safe for concurrent use on its own: the session
// controller calls it from a single event loop, which is the concurrency
// model of the whole engine.
type Assembler struct {
	policy FlushPolicy
	emit   func(Message)

	// Role-switch policy state.
	currentRole Role
	buf         strings.Builder
	openedAt    time.Time

	// Turn-batch policy state.
	userBuf  strings.Builder
	agentBuf strings.Builder
	userAt   time.Time
	agentAt  time.Time
}

// New creates an Assembler that hands each closed message to emit.
func New(policy FlushPolicy, emit func(Message)) *Assembler {
	return &Assembler{policy: policy, emit: emit}
}

// AddFragment appends one text fragment for the given role, flushing the
// previously open buffer first when the policy calls for it.
func (a *Assembler) AddFragment(role Role, text string) {
	if text == "" {
		return
	}

	if a.policy == FlushOnTurnComplete {
		switch role {
		case RoleAgent:
			if a.agentBuf.Len() == 0 {
				a.agentAt = time.Now()
			}
			a.agentBuf.WriteString(text)
		default:
			if a.userBuf.Len() == 0 {
				a.userAt = time.Now()
			}
			a.userBuf.WriteString(text)
		}
		return
	}

	if role != a.currentRole {
		a.flushCurrent()
		a.currentRole = role
		a.openedAt = time.Now()
	}
	a.buf.WriteString(text)
}

// TurnComplete handles the protocol's turn boundary: both policies treat it
// as a flush point; only the batching behaviour differs per policy.
func (a *Assembler) TurnComplete() {
	if a.policy == FlushOnTurnComplete {
		a.flushBatched()
		return
	}
	a.flushCurrent()
}

// Flush drains any open buffers. Called once at session end so trailing text
// is not lost; safe to call when nothing is buffered.
func (a *Assembler) Flush() {
	a.flushCurrent()
	a.flushBatched()
}

func (a *Assembler) flushCurrent() {
	text := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	if text == "" || a.currentRole == "" {
		return
	}
	a.emit(Message{Role: a.currentRole, Text: text, At: a.openedAt})
}

// flushBatched closes the user buffer before the agent buffer: within one
// logical turn the user spoke first.
func (a *Assembler) flushBatched() {
	if text := strings.TrimSpace(a.userBuf.String()); text != "" {
		a.emit(Message{Role: RoleUser, Text: text, At: a.userAt})
	}
	a.userBuf.Reset()
	if text := strings.TrimSpace(a.agentBuf.String()); text != "" {
		a.emit(Message{Role: RoleAgent, Text: text, At: a.agentAt})
	}
	a.agentBuf.Reset()
}
