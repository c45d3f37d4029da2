// Package live defines the Provider interface for bidirectional live voice
// backends.
//
// A live provider wraps a real-time duplex voice service: the client streams
// microphone audio up while the service streams synthesised audio, transcript
// text, protocol markers, and tool calls back down over the same logical
// connection. The engine treats the provider as an opaque duplex channel —
// the cryptographic handshake, retries below the connection level, and the
// model behind it are the provider's business.
//
// The central abstraction is SessionHandle: one open duplex session exposing
// a fire-and-forget send operation and a single inbound message stream.
// Sessions are long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/sotto-voice/sotto/pkg/audio"
)

// ToolCall is a structured function-invocation request emitted by the remote
// agent. Every received ToolCall must be answered by exactly one correlated
// acknowledgement via [SessionHandle.SendToolResponse].
type ToolCall struct {
	// ID correlates the acknowledgement with the invocation.
	ID string

	// Name is the declared function name.
	Name string

	// Args is the loosely-typed argument payload as sent by the model. It is
	// not contractually guaranteed to match the declared schema; consumers
	// must parse it best-effort.
	Args map[string]any
}

// Message is the tagged union of inbound stream fragments. A single protocol
// message may carry several of these at once (audio plus its transcription,
// an interruption marker alongside residual text), so the fields are not
// mutually exclusive; consumers check each.
type Message struct {
	// InputText is recognised user speech.
	InputText string

	// OutputText is the text form of the agent's spoken output.
	OutputText string

	// Audio is a base64-encoded s16le PCM fragment of agent speech, decoded
	// by the engine's frame codec.
	Audio string

	// TurnComplete marks that the agent considers the current speaking turn
	// finished.
	TurnComplete bool

	// Interrupted marks that the user began speaking while agent audio was
	// still queued or playing; the engine must flush scheduled playback.
	Interrupted bool

	// ToolCalls lists function invocations requested in this message.
	ToolCalls []ToolCall
}

// ToolDefinition declares one function the remote agent may invoke.
type ToolDefinition struct {
	// Name is the function name the model will call.
	Name string

	// Description tells the model when to invoke the function.
	Description string

	// Parameters is the JSON-schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model selects the remote model, provider-specific.
	Model string

	// Voice selects the prebuilt voice for synthesised speech. Empty uses
	// the provider default.
	Voice string

	// Instructions is the system-level prompt governing the agent's
	// behaviour for the whole session.
	Instructions string

	// Tools is the set of functions offered to the model. Tool calls are
	// surfaced as [Message.ToolCalls].
	Tools []ToolDefinition

	// InputTranscription and OutputTranscription request text transcription
	// of user speech and agent speech respectively.
	InputTranscription  bool
	OutputTranscription bool
}

// SessionHandle represents one open duplex session.
//
// The session is the hot path of the voice loop — SendFrame must return
// quickly and must not retry internally; the input stream is lossy by design
// and a later frame supersedes a lost one. All methods must be safe for
// concurrent use. Callers must call Close when the session is no longer
// needed; Close is idempotent.
type SessionHandle interface {
	// SendFrame delivers one encoded microphone frame as realtime input.
	// Returns an error if the session is closed or the write fails; callers
	// log and drop, never block or retry.
	SendFrame(blob audio.WireBlob) error

	// SendToolResponse sends the correlated acknowledgement for a received
	// tool call. Failures are non-fatal to the session.
	SendToolResponse(id, name string, resp map[string]any) error

	// Messages returns the inbound stream. The channel is closed when the
	// session ends — cleanly or not; check [SessionHandle.Err] afterwards to
	// distinguish. Consumers must drain promptly to avoid stalling the
	// provider's receive loop.
	Messages() <-chan Message

	// Err returns the error that terminated the session, or nil if it was
	// closed deliberately. Valid after Messages is closed.
	Err() error

	// Close terminates the session and releases its resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live duplex voice backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new live session. The returned handle is ready
	// to accept frames immediately. The caller owns the handle and must
	// call Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
