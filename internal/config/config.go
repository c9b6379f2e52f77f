package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Camera    CameraConfig    `yaml:"camera"`
	Model     ModelConfig     `yaml:"model"`
	Detector  DetectorConfig  `yaml:"detector"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Journal   JournalConfig   `yaml:"journal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig is optional. When disabled every session is local.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
	// DevLogin attributes requests to this login when Tailscale is disabled.
	DevLogin string `yaml:"dev_login"`
}

// TailscaleConfig serves the API on the tailnet, which also provides the
// caller identity used for remote sessions.
type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
	AuthKey  string `yaml:"auth_key"`
}

// CameraConfig selects the frame source. URI wins over the device fields.
type CameraConfig struct {
	URI               string        `yaml:"uri"`
	UserDevice        string        `yaml:"user_device"`
	EnvironmentDevice string        `yaml:"environment_device"`
	Facing            string        `yaml:"facing"`
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	FPS               float64       `yaml:"fps"`
	FirstFrameTimeout time.Duration `yaml:"first_frame_timeout"`
}

// ModelConfig describes the inference worker and the model it loads.
type ModelConfig struct {
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	Dir          string        `yaml:"dir"`
	Path         string        `yaml:"path"`
	Device       string        `yaml:"device"`
	InputSize    int           `yaml:"input_size"`
	MinPoseScore float64       `yaml:"min_pose_score"`
	WarmupRuns   int           `yaml:"warmup_runs"`
	LoadTimeout  time.Duration `yaml:"load_timeout"`
	InferTimeout time.Duration `yaml:"infer_timeout"`
}

type DetectorConfig struct {
	// Margins overrides the extension deadband in pixels per technique.
	Margins map[string]float64 `yaml:"margins"`
}

type OverlayConfig struct {
	Window      bool   `yaml:"window"`
	WindowTitle string `yaml:"window_title"`
}

type JournalConfig struct {
	Dir string `yaml:"dir"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// SlogLevel parses the configured level. Validated by Load.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load reads config from a YAML file, then applies defaults and environment
// variable overrides. Env vars use the prefix REPCAM_:
//
//	REPCAM_SERVER_HOST, REPCAM_SERVER_PORT,
//	REPCAM_DB_ENABLED, REPCAM_DB_HOST, REPCAM_DB_PORT, REPCAM_DB_NAME,
//	REPCAM_DB_USER, REPCAM_DB_PASSWORD, REPCAM_DB_SSLMODE,
//	REPCAM_AUTH_API_KEY, REPCAM_AUTH_DEV_LOGIN, REPCAM_TS_AUTHKEY,
//	REPCAM_CAMERA_URI, REPCAM_MODEL_COMMAND, REPCAM_MODEL_PATH,
//	REPCAM_MQTT_BROKER, REPCAM_JOURNAL_DIR, REPCAM_LOG_LEVEL
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "repcam"
	}
	if cfg.Camera.Facing == "" {
		cfg.Camera.Facing = "user"
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 30
	}
	if cfg.Camera.FirstFrameTimeout == 0 {
		cfg.Camera.FirstFrameTimeout = 10 * time.Second
	}
	if cfg.Model.InputSize == 0 {
		cfg.Model.InputSize = 256
	}
	if cfg.Model.WarmupRuns == 0 {
		cfg.Model.WarmupRuns = 1
	}
	if cfg.Model.LoadTimeout == 0 {
		cfg.Model.LoadTimeout = 60 * time.Second
	}
	if cfg.Model.InferTimeout == 0 {
		cfg.Model.InferTimeout = 2 * time.Second
	}
	if cfg.Overlay.WindowTitle == "" {
		cfg.Overlay.WindowTitle = "repcam"
	}
	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = "data"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "repcam"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "repcam"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPCAM_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("REPCAM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REPCAM_DB_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Database.Enabled = enabled
		}
	}
	if v := os.Getenv("REPCAM_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("REPCAM_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("REPCAM_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REPCAM_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("REPCAM_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REPCAM_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("REPCAM_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("REPCAM_AUTH_DEV_LOGIN"); v != "" {
		cfg.Auth.DevLogin = v
	}
	if v := os.Getenv("REPCAM_TS_AUTHKEY"); v != "" {
		cfg.Tailscale.AuthKey = v
	}
	if v := os.Getenv("REPCAM_CAMERA_URI"); v != "" {
		cfg.Camera.URI = v
	}
	if v := os.Getenv("REPCAM_MODEL_COMMAND"); v != "" {
		cfg.Model.Command = v
	}
	if v := os.Getenv("REPCAM_MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("REPCAM_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("REPCAM_JOURNAL_DIR"); v != "" {
		cfg.Journal.Dir = v
	}
	if v := os.Getenv("REPCAM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Camera.Facing != "user" && c.Camera.Facing != "environment" {
		return fmt.Errorf("camera.facing must be user or environment, got %q", c.Camera.Facing)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 || c.Camera.FPS < 0 {
		return fmt.Errorf("camera width, height and fps must be positive")
	}
	if c.Model.Command == "" {
		return fmt.Errorf("model.command is required")
	}
	if c.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	if c.Model.MinPoseScore < 0 || c.Model.MinPoseScore > 1 {
		return fmt.Errorf("model.min_pose_score must be within [0, 1]")
	}
	for name, margin := range c.Detector.Margins {
		if margin <= 0 {
			return fmt.Errorf("detector.margins.%s must be positive", name)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
