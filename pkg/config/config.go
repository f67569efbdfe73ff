// Package config loads and validates the watcher's YAML configuration, per
// spec.md §6. The bearer token is deliberately never read from the YAML
// file — it comes from the CRAFTY_API_TOKEN environment variable only.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/craftywatch/hibernate/internal/models"
)

// Defaults mirror the table in spec.md §6.
const (
	defaultPollInterval    = 15 * time.Second
	defaultRequestTimeout  = 10 * time.Second
	defaultIdleTimeout     = 10 * time.Minute
	defaultStartTimeout    = 180 * time.Second
	defaultStopTimeout     = 120 * time.Second
	defaultStopCooldown    = 60 * time.Second
	defaultStartGrace      = 120 * time.Second
	defaultFlapThreshold   = 3
	defaultFlapWindow      = time.Hour
	defaultMaxPlayers      = 20
	defaultBindAddress     = "0.0.0.0"
	defaultHealthPort      = 8095
	defaultWakeOnPing      = models.WakeOnPingRepeated
	defaultServerKind      = models.KindJava
)

// Config is the fully validated, in-memory form of the YAML file plus the
// CRAFTY_API_TOKEN environment variable.
type Config struct {
	ControllerBaseURL     string
	ControllerToken       string
	PollInterval          time.Duration
	ControllerReqTimeout  time.Duration

	HealthPort int
	WebhookURL string

	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string

	Servers map[string]models.Descriptor
}

// rawConfig mirrors the YAML document shape before defaulting/validation.
type rawConfig struct {
	Controller struct {
		BaseURL               string `yaml:"base_url"`
		PollIntervalSeconds   int    `yaml:"poll_interval_seconds"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	} `yaml:"controller"`

	Servers map[string]rawServer `yaml:"servers"`

	Health struct {
		ListenPort int `yaml:"listen_port"`
	} `yaml:"health"`

	Webhook struct {
		URL string `yaml:"url"`
	} `yaml:"webhook"`

	InfluxDB struct {
		URL    string `yaml:"url"`
		Token  string `yaml:"token"`
		Org    string `yaml:"org"`
		Bucket string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

type rawServer struct {
	CraftyServerID      string `yaml:"crafty_server_id"`
	Kind                string `yaml:"kind"`
	ListenPort          int    `yaml:"listen_port"`
	BindAddress         string `yaml:"bind_address"`
	IdleTimeoutMinutes  int    `yaml:"idle_timeout_minutes"`
	StartTimeoutSeconds int    `yaml:"start_timeout_seconds"`
	StopTimeoutSeconds  int    `yaml:"stop_timeout_seconds"`
	StopCooldownSeconds int    `yaml:"stop_cooldown_seconds"`
	StartGraceSeconds   int    `yaml:"start_grace_seconds"`
	FlapThreshold       int    `yaml:"flap_threshold"`
	FlapWindowSeconds   int    `yaml:"flap_window_seconds"`
	MOTD                string `yaml:"motd"`
	MOTDIcon            string `yaml:"motd_icon"`
	VersionName         string `yaml:"version_name"`
	ProtocolVersion     int    `yaml:"protocol_version"`
	MaxPlayers          int    `yaml:"max_players"`
	StartingKickMessage string `yaml:"starting_kick_message"`
	RCONPort            int    `yaml:"rcon_port"`
	RCONPassword        string `yaml:"rcon_password"`
	Bedrock             struct {
		WakeOnPing string `yaml:"wake_on_ping"`
	} `yaml:"bedrock"`
}

// Error is a ConfigInvalid failure: fatal at startup, but on reload the
// caller must keep the previously loaded Config per spec.md §7.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("config %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Load reads and validates the YAML file at path, loading a .env file first
// (if present) for local-dev convenience, then reading CRAFTY_API_TOKEN from
// the process environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("parse yaml: %w", err)}
	}

	cfg, err := buildConfig(raw)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

func buildConfig(raw rawConfig) (*Config, error) {
	if raw.Controller.BaseURL == "" {
		return nil, fmt.Errorf("controller.base_url is required")
	}
	token := os.Getenv("CRAFTY_API_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("CRAFTY_API_TOKEN environment variable is required")
	}
	if len(raw.Servers) == 0 {
		return nil, fmt.Errorf("at least one entry under servers is required")
	}

	cfg := &Config{
		ControllerBaseURL:    raw.Controller.BaseURL,
		ControllerToken:      token,
		PollInterval:         secondsOrDefault(raw.Controller.PollIntervalSeconds, defaultPollInterval),
		ControllerReqTimeout: secondsOrDefault(raw.Controller.RequestTimeoutSeconds, defaultRequestTimeout),
		HealthPort:           intOrDefault(raw.Health.ListenPort, defaultHealthPort),
		WebhookURL:           raw.Webhook.URL,
		InfluxDBURL:          raw.InfluxDB.URL,
		InfluxDBToken:        raw.InfluxDB.Token,
		InfluxDBOrg:          stringOrDefault(raw.InfluxDB.Org, "hibernate"),
		InfluxDBBucket:       stringOrDefault(raw.InfluxDB.Bucket, "events"),
		Servers:              make(map[string]models.Descriptor, len(raw.Servers)),
	}

	for name, rs := range raw.Servers {
		desc, err := buildDescriptor(name, rs)
		if err != nil {
			return nil, fmt.Errorf("servers.%s: %w", name, err)
		}
		cfg.Servers[name] = desc
	}

	return cfg, nil
}

func buildDescriptor(name string, rs rawServer) (models.Descriptor, error) {
	if rs.CraftyServerID == "" {
		return models.Descriptor{}, fmt.Errorf("crafty_server_id is required")
	}
	if rs.ListenPort == 0 {
		return models.Descriptor{}, fmt.Errorf("listen_port is required")
	}

	kind := defaultServerKind
	switch rs.Kind {
	case "", "java":
		kind = models.KindJava
	case "bedrock":
		kind = models.KindBedrock
	default:
		return models.Descriptor{}, fmt.Errorf("kind must be java or bedrock, got %q", rs.Kind)
	}

	wakeOnPing := defaultWakeOnPing
	switch rs.Bedrock.WakeOnPing {
	case "":
	case string(models.WakeOnPingAlways):
		wakeOnPing = models.WakeOnPingAlways
	case string(models.WakeOnPingRepeated):
		wakeOnPing = models.WakeOnPingRepeated
	case string(models.WakeOnPingNever):
		wakeOnPing = models.WakeOnPingNever
	default:
		return models.Descriptor{}, fmt.Errorf("bedrock.wake_on_ping must be always, repeated, or never, got %q", rs.Bedrock.WakeOnPing)
	}

	return models.Descriptor{
		Name:            name,
		CraftyID:        rs.CraftyServerID,
		Kind:            kind,
		BindAddr:        stringOrDefault(rs.BindAddress, defaultBindAddress),
		Port:            rs.ListenPort,
		IdleTimeout:     minutesOrDefault(rs.IdleTimeoutMinutes, defaultIdleTimeout),
		StartTimeout:    secondsOrDefault(rs.StartTimeoutSeconds, defaultStartTimeout),
		StopTimeout:     secondsOrDefault(rs.StopTimeoutSeconds, defaultStopTimeout),
		StopCooldown:    secondsOrDefault(rs.StopCooldownSeconds, defaultStopCooldown),
		StartGrace:      secondsOrDefault(rs.StartGraceSeconds, defaultStartGrace),
		FlapThreshold:   intOrDefault(rs.FlapThreshold, defaultFlapThreshold),
		FlapWindow:      secondsOrDefault(rs.FlapWindowSeconds, defaultFlapWindow),
		MOTD:            rs.MOTD,
		MOTDIcon:        rs.MOTDIcon,
		VersionName:     rs.VersionName,
		ProtocolVersion: rs.ProtocolVersion,
		MaxPlayers:      intOrDefault(rs.MaxPlayers, defaultMaxPlayers),
		StartingKickMsg: rs.StartingKickMessage,
		WakeOnPing:      wakeOnPing,
		RCONPort:        rs.RCONPort,
		RCONPassword:    rs.RCONPassword,
	}, nil
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func stringOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func secondsOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds == 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

func minutesOrDefault(minutes int, def time.Duration) time.Duration {
	if minutes == 0 {
		return def
	}
	return time.Duration(minutes) * time.Minute
}
