package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/utrack/hypelens/internal/source/irc"
	"github.com/utrack/hypelens/internal/source/pcm"
)

// ErrMissing marks a component whose required variables are unset.
var ErrMissing = errors.New("configuration missing")

// Config contains runtime options for hypelens.
type Config struct {
	Chat    ChatConfig
	Hub     HubConfig
	Clips   ClipConfig
	Audio   AudioConfig
	Hotkey  string // validated combination; on unix it fires on SIGUSR1
	OBS     OBSConfig
	Storage StorageConfig

	HTTPAddress     string
	MaxTapSessions  int
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
	OTLPEndpoint    string
}

type ChatConfig struct {
	Token         string
	Nick          string
	Channel       string
	Addr          string
	Keywords      []string
	FreqThreshold int
}

// Enabled reports whether all chat credentials are present.
func (c ChatConfig) Enabled() bool {
	return c.Require() == nil
}

// Require names the first missing chat credential.
func (c ChatConfig) Require() error {
	return require(
		"TWITCH_OAUTH_TOKEN", c.Token,
		"TWITCH_NICK", c.Nick,
		"TWITCH_CHANNEL", c.Channel,
	)
}

type HubConfig struct {
	URL         string
	SendTimeout time.Duration
}

type ClipConfig struct {
	Dir         string
	AllowCWD    bool
	Extensions  []string
	SettleDelay time.Duration
}

type AudioConfig struct {
	Threshold  float64
	SampleRate int
	BlockSize  int
	Channels   int
	Format     string
	Source     string
}

// Require reports a missing watch directory unless the CWD fallback is on.
func (c ClipConfig) Require() error {
	if c.AllowCWD {
		return nil
	}
	return require("CLIP_DIR", c.Dir)
}

type OBSConfig struct {
	URL      string
	Password string
}

type StorageConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Require reports a missing bucket.
func (c StorageConfig) Require() error {
	return require("S3_BUCKET_NAME", c.Bucket)
}

// require takes name/value pairs and wraps ErrMissing with the first unset name.
func require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s", ErrMissing, pairs[i])
		}
	}
	return nil
}

// Load builds config from environment variables. A .env file in the working
// directory is read first; variables already set win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Chat: ChatConfig{
			Token:         getString("TWITCH_OAUTH_TOKEN", ""),
			Nick:          getString("TWITCH_NICK", ""),
			Channel:       getString("TWITCH_CHANNEL", ""),
			Addr:          getString("TWITCH_IRC_ADDR", irc.DefaultAddr),
			Keywords:      getList("CHAT_KEYWORDS"),
			FreqThreshold: getInt("CHAT_FREQ_THRESHOLD", 20),
		},
		Hub: HubConfig{
			URL:         getString("WEBSOCKET_URL", "http://localhost:3001"),
			SendTimeout: getDuration("HUB_SEND_TIMEOUT", 5*time.Second),
		},
		Clips: ClipConfig{
			Dir:         getString("CLIP_DIR", ""),
			AllowCWD:    getBool("CLIP_DIR_ALLOW_CWD", false),
			Extensions:  getList("CLIP_EXTENSIONS"),
			SettleDelay: getDuration("CLIP_SETTLE_DELAY", 5*time.Second),
		},
		Audio: AudioConfig{
			Threshold:  getFloat("AUDIO_THRESHOLD", 0.1),
			SampleRate: getInt("AUDIO_SAMPLERATE", 44100),
			BlockSize:  getInt("AUDIO_BLOCKSIZE", 1024),
			Channels:   getInt("AUDIO_CHANNELS", 1),
			Format:     getString("AUDIO_FORMAT", string(pcm.F32LE)),
			Source:     getString("AUDIO_SOURCE", ""),
		},
		Hotkey: getString("HOTKEY", ""),
		OBS: OBSConfig{
			URL:      getString("OBS_WEBSOCKET_URL", ""),
			Password: getString("OBS_WEBSOCKET_PASSWORD", ""),
		},
		Storage: StorageConfig{
			Bucket:          getString("S3_BUCKET_NAME", ""),
			Endpoint:        getString("S3_ENDPOINT_URL", ""),
			Region:          getString("AWS_REGION", "us-east-1"),
			AccessKeyID:     getString("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getString("AWS_SECRET_ACCESS_KEY", ""),
		},
		HTTPAddress:     getOptional("HYPELENS_HTTP_ADDR", "127.0.0.1:8000"),
		MaxTapSessions:  getInt("HYPELENS_MAX_TAP_SESSIONS", 16),
		ShutdownTimeout: getDuration("HYPELENS_SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        getString("HYPELENS_LOG_LEVEL", "info"),
		LogFormat:       getString("HYPELENS_LOG_FORMAT", "json"),
		OTLPEndpoint:    getString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLERATE must be > 0")
	}
	if c.Audio.BlockSize <= 0 {
		return fmt.Errorf("AUDIO_BLOCKSIZE must be > 0")
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("AUDIO_CHANNELS must be > 0")
	}
	if _, err := pcm.ParseEncoding(c.Audio.Format); err != nil {
		return fmt.Errorf("AUDIO_FORMAT: %w", err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("HYPELENS_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.MaxTapSessions <= 0 {
		return fmt.Errorf("HYPELENS_MAX_TAP_SESSIONS must be > 0")
	}
	return nil
}

// PCMFormat returns the audio source format. Call after Validate.
func (c AudioConfig) PCMFormat() pcm.Format {
	enc, _ := pcm.ParseEncoding(c.Format)
	return pcm.Format{
		SampleRate:  c.SampleRate,
		Channels:    c.Channels,
		BlockFrames: c.BlockSize,
		Encoding:    enc,
	}
}

func getString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

// getOptional keeps an explicitly empty value, so "" can switch a feature off.
func getOptional(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(value)
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// getList splits a comma-separated value, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
