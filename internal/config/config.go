// Package config loads and validates the daemon's TOML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Rmnet       ChannelConfig     `toml:"rmnet"`
	GPS         ChannelConfig     `toml:"gps"`
	Transceiver TransceiverConfig `toml:"transceiver"`
	Audio       AudioConfig       `toml:"audio"`
	Messaging   MessagingConfig   `toml:"messaging"`
	Inject      InjectConfig      `toml:"inject"`
	Admin       AdminConfig       `toml:"admin"`
	Debug       DebugConfig       `toml:"debug"`
}

// ChannelConfig is one proxied device pair.
type ChannelConfig struct {
	Enabled       bool   `toml:"enabled"`
	Host          string `toml:"host"`
	Baseband      string `toml:"baseband"`
	PollTimeout   string `toml:"poll_timeout"`
	ReopenInitial string `toml:"reopen_initial"`
	ReopenMax     string `toml:"reopen_max"`
}

type TransceiverConfig struct {
	SuspendPath  string `toml:"suspend_path"`
	PollInterval string `toml:"poll_interval"`
	WakeSettle   string `toml:"wake_settle"`
}

type AudioConfig struct {
	CustomAlertTone    bool   `toml:"custom_alert_tone"`
	ExternalCodecReset bool   `toml:"external_codec_reset"`
	AutoRecord         bool   `toml:"auto_record"`
	ToneCadence        string `toml:"tone_cadence"`
	MaxRecording       string `toml:"max_recording"`
	SessionStartHook   string `toml:"session_start_hook"`
	SessionStopHook    string `toml:"session_stop_hook"`
}

type MessagingConfig struct {
	QueueSize    int    `toml:"queue_size"`
	SelfNumber   string `toml:"self_number"`
	SenderNumber string `toml:"sender_number"`
	ClientID     int    `toml:"client_id"`
}

type InjectConfig struct {
	Heartbeat    string `toml:"heartbeat"`
	CBInterval   string `toml:"cb_interval"`
	CallerNumber string `toml:"caller_number"`
	CBCatalog    string `toml:"cb_catalog"`
}

type AdminConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	// Token, when set, is required as a bearer token on control routes.
	Token string `toml:"token"`
}

type DebugConfig struct {
	LogLevel string   `toml:"log_level"`
	Trace    []string `toml:"trace"`
}

func Default() Config {
	return Config{
		Rmnet: ChannelConfig{
			Enabled:       true,
			Host:          "/dev/rmnet_ctrl",
			Baseband:      "/dev/smdcntl8",
			PollTimeout:   "500ms",
			ReopenInitial: "250ms",
			ReopenMax:     "5s",
		},
		GPS: ChannelConfig{
			Enabled:       true,
			Host:          "/dev/ttyGS1",
			Baseband:      "/dev/smd7",
			PollTimeout:   "500ms",
			ReopenInitial: "250ms",
			ReopenMax:     "5s",
		},
		Transceiver: TransceiverConfig{
			SuspendPath:  "/sys/devices/78d9000.usb/msm_hsusb/isr_suspend_state",
			PollInterval: "1s",
			WakeSettle:   "100ms",
		},
		Audio: AudioConfig{
			ToneCadence: "1s",
		},
		Messaging: MessagingConfig{
			QueueSize:  32,
			SelfNumber: "223344556677",
			ClientID:   1,
		},
		Inject: InjectConfig{
			Heartbeat:    "3s",
			CBInterval:   "10s",
			CallerNumber: "+15550123",
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9180",
		},
		Debug: DebugConfig{
			LogLevel: "info",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if err := ValidateChannel("rmnet", cfg.Rmnet); err != nil {
		return err
	}
	if err := ValidateChannel("gps", cfg.GPS); err != nil {
		return err
	}
	for _, d := range []struct{ name, value string }{
		{"transceiver.poll_interval", cfg.Transceiver.PollInterval},
		{"transceiver.wake_settle", cfg.Transceiver.WakeSettle},
		{"audio.tone_cadence", cfg.Audio.ToneCadence},
		{"audio.max_recording", cfg.Audio.MaxRecording},
		{"inject.heartbeat", cfg.Inject.Heartbeat},
		{"inject.cb_interval", cfg.Inject.CBInterval},
	} {
		if _, err := Duration(d.value); err != nil {
			return fmt.Errorf("%s invalid: %w", d.name, err)
		}
	}
	if cfg.Messaging.QueueSize < 0 {
		return fmt.Errorf("messaging.queue_size must not be negative")
	}
	if cfg.Messaging.ClientID < 0 || cfg.Messaging.ClientID > 0xff {
		return fmt.Errorf("messaging.client_id out of range: %d", cfg.Messaging.ClientID)
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("admin config missing addr")
	}
	return nil
}

func ValidateChannel(name string, ch ChannelConfig) error {
	if !ch.Enabled {
		return nil
	}
	if strings.TrimSpace(ch.Host) == "" {
		return fmt.Errorf("%s config missing host device", name)
	}
	if strings.TrimSpace(ch.Baseband) == "" {
		return fmt.Errorf("%s config missing baseband device", name)
	}
	for key, v := range map[string]string{
		"poll_timeout":   ch.PollTimeout,
		"reopen_initial": ch.ReopenInitial,
		"reopen_max":     ch.ReopenMax,
	} {
		if _, err := Duration(v); err != nil {
			return fmt.Errorf("%s.%s invalid: %w", name, key, err)
		}
	}
	return nil
}

// Duration parses a duration field. Empty means zero, which components
// replace with their own default.
func Duration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}

// MustDuration is Duration for values already checked by Validate.
func MustDuration(raw string) time.Duration {
	d, _ := Duration(raw)
	return d
}
