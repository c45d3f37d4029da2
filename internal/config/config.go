// Package config provides the configuration schema and loader for the sotto
// voice session engine.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects the session operating mode.
type Mode string

const (
	// ModeConversational is the spoken back-and-forth with the voice agent.
	ModeConversational Mode = "conversational"

	// ModeSilentMonitor runs the background agent that never speaks and
	// emits structured guidance signals instead.
	ModeSilentMonitor Mode = "silent-monitor"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeConversational || m == ModeSilentMonitor
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// Mode selects conversational or silent-monitor operation.
	Mode Mode `yaml:"mode"`

	Provider ProviderConfig `yaml:"provider"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProviderConfig selects and configures the live transport backend.
type ProviderConfig struct {
	// Name selects the transport implementation: "gemini-live" (raw
	// WebSocket) or "genai-live" (official SDK).
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. When empty, the
	// GEMINI_API_KEY environment variable is used.
	APIKey string `yaml:"api_key"`

	// Model selects the remote model. Empty uses the provider default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint. Used in tests.
	BaseURL string `yaml:"base_url"`

	// Voice selects the prebuilt voice for synthesised speech.
	Voice string `yaml:"voice"`
}

// AudioConfig configures the local audio devices and the capture gate.
type AudioConfig struct {
	// InputWAV is the capture source for the file-backed device.
	InputWAV string `yaml:"input_wav"`

	// OutputWAV is where rendered agent speech is written.
	OutputWAV string `yaml:"output_wav"`

	// FrameMS is the capture tick in milliseconds. Default: 256.
	FrameMS int `yaml:"frame_ms"`

	// HalfDuplex suppresses outbound frames while agent audio is playing or
	// queued. A heuristic against doubled talk, not a guarantee.
	// Default: true.
	HalfDuplex bool `yaml:"half_duplex"`
}

// SessionConfig holds the model-facing session parameters.
type SessionConfig struct {
	// Instructions is the system-level prompt for the session.
	Instructions string `yaml:"instructions"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address for /metrics (e.g., ":9090").
	// Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with all defaults applied. Loading overlays the
// file's values on top of it.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Mode:     ModeConversational,
		Audio: AudioConfig{
			FrameMS:    256,
			HalfDuplex: true,
		},
	}
}

// ValidProviderNames lists known transport implementations.
var ValidProviderNames = []string{"gemini-live", "genai-live"}
