package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load for fields left unset.
const (
	DefaultAgentName            = "Charlie"
	DefaultDebounceMs           = 4000
	DefaultSummarizeIntervalMin = 5
	DefaultPollIntervalMs       = 100
	DefaultStallTimeoutSec      = 20
	DefaultOpsListenAddr        = ":8080"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper"},
	"tts": {"ttsd"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = DefaultAgentName
	}
	if cfg.Agent.DebounceMs == 0 {
		cfg.Agent.DebounceMs = DefaultDebounceMs
	}
	if cfg.Agent.SummarizeIntervalMin == 0 {
		cfg.Agent.SummarizeIntervalMin = DefaultSummarizeIntervalMin
	}
	if cfg.Pipeline.PollIntervalMs == 0 {
		cfg.Pipeline.PollIntervalMs = DefaultPollIntervalMs
	}
	if cfg.Pipeline.StallTimeoutSec == 0 {
		cfg.Pipeline.StallTimeoutSec = DefaultStallTimeoutSec
	}
	if cfg.OpsListenAddr == "" {
		cfg.OpsListenAddr = DefaultOpsListenAddr
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	if cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required"))
	}

	if cfg.Agent.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("agent.debounce_ms %d must not be negative", cfg.Agent.DebounceMs))
	}
	if cfg.Agent.SummarizeIntervalMin < 0 {
		errs = append(errs, fmt.Errorf("agent.summarize_interval_min %d must not be negative", cfg.Agent.SummarizeIntervalMin))
	}
	if cfg.Pipeline.PollIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.poll_interval_ms %d must not be negative", cfg.Pipeline.PollIntervalMs))
	}
	if cfg.Pipeline.StallTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("pipeline.stall_timeout_sec %d must not be negative", cfg.Pipeline.StallTimeoutSec))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.Model == "" {
		errs = append(errs, errors.New("providers.stt.model (model file path) is required for whisper"))
	}
	if cfg.Providers.TTS.Name == "ttsd" && cfg.Providers.TTS.BaseURL == "" {
		errs = append(errs, errors.New("providers.tts.base_url (daemon WebSocket URL) is required for ttsd"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
