package gemini

import (
	"encoding/json"
	"testing"
)

func parse(t *testing.T, raw string) *serverMessage {
	t.Helper()
	var msg serverMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &msg
}

func TestTranslateAudioFragment(t *testing.T) {
	t.Parallel()

	msg := parse(t, `{"serverContent":{"modelTurn":{"parts":[
		{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAAA"}}
	]}}}`)

	out, ok := translate(msg)
	if !ok {
		t.Fatal("audio fragment translated to nothing")
	}
	if out.Audio != "AAAA" {
		t.Errorf("Audio = %q, want \"AAAA\"", out.Audio)
	}
	if out.TurnComplete || out.Interrupted {
		t.Errorf("spurious markers: %+v", out)
	}
}

func TestTranslateTranscriptions(t *testing.T) {
	t.Parallel()

	msg := parse(t, `{"serverContent":{
		"inputTranscription":{"text":"Hel"},
		"outputTranscription":{"text":"Sure"}
	}}`)

	out, ok := translate(msg)
	if !ok {
		t.Fatal("transcription translated to nothing")
	}
	if out.InputText != "Hel" {
		t.Errorf("InputText = %q", out.InputText)
	}
	if out.OutputText != "Sure" {
		t.Errorf("OutputText = %q", out.OutputText)
	}
}

func TestTranslateTurnCompleteAndInterrupted(t *testing.T) {
	t.Parallel()

	msg := parse(t, `{"serverContent":{"turnComplete":true,"interrupted":true}}`)
	out, ok := translate(msg)
	if !ok {
		t.Fatal("markers translated to nothing")
	}
	if !out.TurnComplete || !out.Interrupted {
		t.Errorf("markers = %+v", out)
	}
}

func TestTranslateToolCall(t *testing.T) {
	t.Parallel()

	msg := parse(t, `{"toolCall":{"functionCalls":[
		{"id":"c1","name":"report_guidance","args":{"level":"info","reason":"ok"}}
	]}}`)

	out, ok := translate(msg)
	if !ok {
		t.Fatal("tool call translated to nothing")
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v", out.ToolCalls)
	}
	tc := out.ToolCalls[0]
	if tc.ID != "c1" || tc.Name != "report_guidance" {
		t.Errorf("call = %+v", tc)
	}
	if tc.Args["level"] != "info" {
		t.Errorf("args = %v", tc.Args)
	}
}

func TestTranslateSetupCompleteIsDropped(t *testing.T) {
	t.Parallel()

	msg := parse(t, `{"setupComplete":{}}`)
	if _, ok := translate(msg); ok {
		t.Fatal("setupComplete produced an engine message")
	}
}

func TestTranslateEmptyServerContentIsDropped(t *testing.T) {
	t.Parallel()

	msg := parse(t, `{"serverContent":{}}`)
	if _, ok := translate(msg); ok {
		t.Fatal("empty serverContent produced an engine message")
	}
}

func TestSetupMessageShape(t *testing.T) {
	t.Parallel()

	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/gemini-2.0-flash-live-001",
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: "Puck"}},
				},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	setup, _ := decoded["setup"].(map[string]any)
	if setup == nil {
		t.Fatalf("no setup key: %s", data)
	}
	for _, key := range []string{"model", "generationConfig", "inputAudioTranscription", "outputAudioTranscription"} {
		if _, ok := setup[key]; !ok {
			t.Errorf("setup missing %q: %s", key, data)
		}
	}
}
