// Package genai implements the live.Provider interface on top of the
// official google.golang.org/genai SDK's Live API.
//
// It speaks the same BidiGenerateContent protocol as the raw-WebSocket
// provider in the sibling gemini package, but delegates connection setup,
// authentication, and message framing to the SDK. Prefer this provider when
// running against Vertex AI credentials; the WebSocket provider remains the
// lighter option for plain API keys and for tests against a local server.
package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/sotto-voice/sotto/pkg/audio"
	"github.com/sotto-voice/sotto/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var (
	_ live.Provider      = (*Provider)(nil)
	_ live.SessionHandle = (*session)(nil)
)

const defaultModel = "gemini-2.0-flash-live-001"

// messageBuf matches the raw-WebSocket provider's inbound buffer depth.
const messageBuf = 64

// Provider implements live.Provider via the genai SDK.
type Provider struct {
	apiKey string
}

// New creates a genai-backed Provider with the given API key.
func New(apiKey string) *Provider {
	return &Provider{apiKey: apiKey}
}

// Connect creates the SDK client, opens a Live session, and starts the
// receive loop. The returned handle is ready to accept frames immediately.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	sdk, err := client.Live.Connect(ctx, model, lc)
	if err != nil {
		return nil, fmt.Errorf("genai: live connect: %w", err)
	}

	sess := &session{
		sdk:      sdk,
		messages: make(chan live.Message, messageBuf),
		done:     make(chan struct{}),
	}
	go sess.receiveLoop()
	return sess, nil
}

type session struct {
	sdk      *genai.Session
	messages chan live.Message

	mu     sync.Mutex
	errVal error
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// receiveLoop blocks on the SDK's Receive and forwards translated fragments.
// It owns the messages channel and closes it on exit.
func (s *session) receiveLoop() {
	defer s.closeOnce.Do(func() { close(s.messages) })

	for {
		resp, err := s.sdk.Receive()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			if !closed && s.errVal == nil {
				s.errVal = err
			}
			s.mu.Unlock()
			return
		}

		out, ok := translate(resp)
		if !ok {
			continue
		}
		select {
		case s.messages <- out:
		case <-s.done:
			return
		}
	}
}

// translate maps one SDK server message onto the provider-neutral fragment
// union. Inline audio arrives as raw bytes from the SDK and is re-encoded to
// base64 so the fragment carries the same wire form as the raw provider.
func translate(resp *genai.LiveServerMessage) (live.Message, bool) {
	var out live.Message
	var relevant bool

	if sc := resp.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					out.Audio = base64.StdEncoding.EncodeToString(p.InlineData.Data)
					relevant = true
				}
				if p.Text != "" {
					out.OutputText += p.Text
					relevant = true
				}
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			out.InputText = sc.InputTranscription.Text
			relevant = true
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out.OutputText += sc.OutputTranscription.Text
			relevant = true
		}
		if sc.TurnComplete {
			out.TurnComplete = true
			relevant = true
		}
		if sc.Interrupted {
			out.Interrupted = true
			relevant = true
		}
	}

	if tc := resp.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			out.ToolCalls = append(out.ToolCalls, live.ToolCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
		if len(out.ToolCalls) > 0 {
			relevant = true
		}
	}

	return out, relevant
}

// SendFrame delivers one encoded microphone frame as realtime input. The SDK
// takes raw bytes, so the blob's base64 payload is decoded first.
func (s *session) SendFrame(blob audio.WireBlob) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("genai: session closed")
	}
	s.mu.Unlock()

	data, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return fmt.Errorf("genai: invalid frame payload: %w", err)
	}
	return s.sdk.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: blob.MIMEType,
			Data:     data,
		},
	})
}

// SendToolResponse sends the correlated acknowledgement for one tool call.
func (s *session) SendToolResponse(id, name string, resp map[string]any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("genai: session closed")
	}
	s.mu.Unlock()

	return s.sdk.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{
			{ID: id, Name: name, Response: resp},
		},
	})
}

// Messages returns the inbound fragment stream.
func (s *session) Messages() <-chan live.Message { return s.messages }

// Err returns the error that terminated the session, or nil after a
// deliberate Close.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	return s.sdk.Close()
}
