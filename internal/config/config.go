// Package config provides the configuration schema and loader for the
// Charlie voice agent.
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

// Config is the root configuration structure for Charlie. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Discord   DiscordConfig   `yaml:"discord"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	LogLevel  LogLevel        `yaml:"log_level"`

	// OpsListenAddr is where the health and metrics endpoints are served.
	// Defaults to ":8080".
	OpsListenAddr string `yaml:"ops_listen_addr"`
}

// AgentConfig holds the agent's identity and listening behaviour.
type AgentConfig struct {
	// Name is the agent's spoken name, matched (fuzzily) against incoming
	// transcripts to detect being addressed. Defaults to "Charlie".
	Name string `yaml:"name"`

	// DebounceMs is the utterance-gap window in milliseconds: a speaker's
	// transcripts are batched until this much quiet passes. Defaults to
	// 4000.
	DebounceMs int `yaml:"debounce_ms"`

	// SummarizeIntervalMin is how often (minutes) the overheard
	// conversation is re-summarized. Defaults to 5.
	SummarizeIntervalMin int `yaml:"summarize_interval_min"`
}

// DiscordConfig holds the Discord connection settings.
type DiscordConfig struct {
	// Token is the bot token. Required.
	Token string `yaml:"token"`

	// GuildID is the server to join. Required.
	GuildID string `yaml:"guild_id"`

	// ChannelID is the voice channel to join. Required.
	ChannelID string `yaml:"channel_id"`
}

// PipelineConfig tunes the playback scheduler.
type PipelineConfig struct {
	// PollIntervalMs is the scheduling tick period in milliseconds.
	// Defaults to 100.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// StallTimeoutSec is how long (seconds) the head response may wait for
	// its next segment before being evicted. Defaults to 20.
	StallTimeoutSec int `yaml:"stall_timeout_sec"`
}

// ProvidersConfig declares which implementation serves each pipeline stage.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the implementation ("openai", "ollama", "whisper",
	// "ttsd", ...).
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For "ttsd" this is
	// the daemon's WebSocket URL; for "whisper" it is unused.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (an LLM model name, a
	// whisper model file path, or a TTS voice).
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields.
	Options map[string]any `yaml:"options"`
}
