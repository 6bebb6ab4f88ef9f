package voicetype

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voicetype-io/voicetype/providers"
)

// Config is the on-disk configuration consumed by the CLI. Every field has a
// usable default; a missing config file is not an error.
type Config struct {
	// Provider selects the recognition backend: doubao, deepgram or google.
	Provider string `yaml:"provider"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Audio       AudioConfig       `yaml:"audio"`
	Doubao      DoubaoConfig      `yaml:"doubao"`
}

// CredentialsConfig holds the provider secrets. Environment variables
// override these so secrets can stay out of the file.
type CredentialsConfig struct {
	APIKey      string `yaml:"api_key"`
	AppID       string `yaml:"app_id"`
	AccessToken string `yaml:"access_token"`
}

// AudioConfig holds the capture format.
type AudioConfig struct {
	SampleRate        int `yaml:"sample_rate"`
	Channels          int `yaml:"channels"`
	ChunkSize         int `yaml:"chunk_size"`
	SegmentDurationMs int `yaml:"segment_duration_ms"`
}

// DoubaoConfig holds doubao endpoint overrides. Empty values keep the
// provider defaults.
type DoubaoConfig struct {
	URL        string `yaml:"url"`
	ResourceID string `yaml:"resource_id"`
}

// DefaultConfig returns the built-in defaults: doubao at 16 kHz mono with
// 100 ms capture chunks.
func DefaultConfig() Config {
	return Config{
		Provider: "doubao",
		Audio: AudioConfig{
			SampleRate:        16000,
			Channels:          1,
			ChunkSize:         3200,
			SegmentDurationMs: 200,
		},
	}
}

// LoadConfig reads the config file at path (if any), applies environment
// overrides and validates the result. An empty path skips the file and uses
// defaults plus environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if _, err := cfg.RecognitionConfig(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays VOICETYPE_* environment variables on the config.
func (c *Config) applyEnv() {
	setEnvString(&c.Provider, "VOICETYPE_PROVIDER")
	setEnvString(&c.Credentials.APIKey, "VOICETYPE_API_KEY")
	setEnvString(&c.Credentials.AppID, "VOICETYPE_APP_ID")
	setEnvString(&c.Credentials.AccessToken, "VOICETYPE_ACCESS_TOKEN")
	setEnvInt(&c.Audio.SampleRate, "VOICETYPE_SAMPLE_RATE")
	setEnvInt(&c.Audio.Channels, "VOICETYPE_CHANNELS")
}

func setEnvString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setEnvInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// RecognitionConfig converts the file config into a validated session
// config.
func (c Config) RecognitionConfig() (providers.RecognitionConfig, error) {
	rc, err := providers.NewRecognitionConfig(c.Audio.SampleRate, c.Audio.Channels, c.Audio.ChunkSize)
	if err != nil {
		return providers.RecognitionConfig{}, err
	}
	if c.Audio.SegmentDurationMs > 0 {
		rc.SegmentDuration = time.Duration(c.Audio.SegmentDurationMs) * time.Millisecond
	}
	if c.Doubao.URL != "" || c.Doubao.ResourceID != "" {
		rc.Extensions = map[string]interface{}{
			"url":         c.Doubao.URL,
			"resource_id": c.Doubao.ResourceID,
		}
	}
	return rc, nil
}

// RecognizerCredentials extracts the provider secrets.
func (c Config) RecognizerCredentials() Credentials {
	return Credentials{
		APIKey:      c.Credentials.APIKey,
		AppID:       c.Credentials.AppID,
		AccessToken: c.Credentials.AccessToken,
	}
}
