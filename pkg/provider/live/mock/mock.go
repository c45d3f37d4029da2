// Package mock provides a scripted live.Provider for tests. The test feeds
// inbound messages with [Session.Deliver] and inspects what the engine sent
// with [Session.SentFrames] and [Session.ToolResponses].
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/sotto-voice/sotto/pkg/audio"
	"github.com/sotto-voice/sotto/pkg/provider/live"
)

// Compile-time assertions that the mocks satisfy the live interfaces.
var (
	_ live.Provider      = (*Provider)(nil)
	_ live.SessionHandle = (*Session)(nil)
)

// Provider is a scripted live.Provider. Each Connect returns a fresh
// [Session], retrievable via [Provider.Last].
type Provider struct {
	// ConnectErr, when non-nil, makes Connect fail.
	ConnectErr error

	// SendFrameErr, when non-nil, is returned by SendFrame on the created
	// sessions (the frame is still recorded).
	SendFrameErr error

	// AckErr, when non-nil, is returned by SendToolResponse (the ack is
	// still recorded).
	AckErr error

	mu       sync.Mutex
	sessions []*Session
}

// Connect implements live.Provider.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := &Session{
		Config:       cfg,
		messages:     make(chan live.Message, 64),
		sendFrameErr: p.SendFrameErr,
		ackErr:       p.AckErr,
	}
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
	return s, nil
}

// Last returns the most recently created session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// ToolResponse records one acknowledgement sent by the engine.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Session is a scripted live.SessionHandle.
type Session struct {
	// Config is the SessionConfig the engine connected with.
	Config live.SessionConfig

	messages     chan live.Message
	sendFrameErr error
	ackErr       error

	mu        sync.Mutex
	frames    []audio.WireBlob
	responses []ToolResponse
	errVal    error
	closed    bool
	closeCh   sync.Once
}

// Deliver feeds one inbound message to the engine.
func (s *Session) Deliver(m live.Message) {
	s.messages <- m
}

// Fail records err as the terminal error and closes the message stream, as a
// transport would on an unexpected disconnect.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = err
	}
	s.mu.Unlock()
	s.closeCh.Do(func() { close(s.messages) })
}

// End closes the message stream cleanly without marking an error, simulating
// a server-side session end.
func (s *Session) End() {
	s.closeCh.Do(func() { close(s.messages) })
}

// SentFrames returns a copy of every frame the engine transmitted.
func (s *Session) SentFrames() []audio.WireBlob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.WireBlob, len(s.frames))
	copy(out, s.frames)
	return out
}

// ToolResponses returns a copy of every acknowledgement the engine sent.
func (s *Session) ToolResponses() []ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolResponse, len(s.responses))
	copy(out, s.responses)
	return out
}

// Closed reports whether the engine closed the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendFrame implements live.SessionHandle.
func (s *Session) SendFrame(blob audio.WireBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	s.frames = append(s.frames, blob)
	return s.sendFrameErr
}

// SendToolResponse implements live.SessionHandle.
func (s *Session) SendToolResponse(id, name string, resp map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ToolResponse{ID: id, Name: name, Response: resp})
	return s.ackErr
}

// Messages implements live.SessionHandle.
func (s *Session) Messages() <-chan live.Message { return s.messages }

// Err implements live.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements live.SessionHandle. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.closeCh.Do(func() { close(s.messages) })
	return nil
}
