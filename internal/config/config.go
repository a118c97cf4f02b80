package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Rig        RigConfig        `mapstructure:"rig"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Scale      ScaleConfig      `mapstructure:"scale"`
	Controller ControllerConfig `mapstructure:"controller"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type RigConfig struct {
	Name       string `mapstructure:"name"`
	Definition string `mapstructure:"definition"`
}

// SerialConfig describes the port and the command/response protocol.
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	DataBits    int           `mapstructure:"data_bits"`
	Parity      string        `mapstructure:"parity"` // N, E, O
	StopBits    int           `mapstructure:"stop_bits"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	Retries      int           `mapstructure:"retries"`
	Delay        time.Duration `mapstructure:"delay"`
	LongTimeout  time.Duration `mapstructure:"long_timeout"`
	Terminator   string        `mapstructure:"terminator"`
	PendingReply string        `mapstructure:"pending_reply"`
}

type ScaleConfig struct {
	Samples        int `mapstructure:"samples"`
	SamplesPerRead int `mapstructure:"samples_per_read"`
}

type ControllerConfig struct {
	TickSchedule    string        `mapstructure:"tick_schedule"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	AccessAngle     int           `mapstructure:"access_angle"`
	StatsRetryDelay time.Duration `mapstructure:"stats_retry_delay"`
	BeginPollDelay  time.Duration `mapstructure:"begin_poll_delay"`

	Intensity IntensityConfig `mapstructure:"intensity"`
}

// IntensityConfig tunes the per-channel watering intensity adaptation.
type IntensityConfig struct {
	MinDiffGrams      float64 `mapstructure:"min_diff_grams"`
	MaxDiffGrams      float64 `mapstructure:"max_diff_grams"`
	MaxUnchangedTimes int     `mapstructure:"max_unchanged_times"`
	LoweringRate      int     `mapstructure:"lowering_rate"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // file, postgres
	DataDir string `mapstructure:"data_dir"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("rig.name", "sys_1")
	v.SetDefault("rig.definition", "configs/rig.yaml")

	v.SetDefault("serial.port", "/dev/ttyACM0")
	v.SetDefault("serial.baud", 4800)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "E")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.read_timeout", "3s")
	v.SetDefault("serial.retries", 3)
	v.SetDefault("serial.delay", "500ms")
	v.SetDefault("serial.long_timeout", "30s")
	v.SetDefault("serial.terminator", "\n")
	v.SetDefault("serial.pending_reply", "rcv")

	v.SetDefault("scale.samples", 50)
	v.SetDefault("scale.samples_per_read", 10)

	v.SetDefault("controller.tick_schedule", "@every 5m")
	v.SetDefault("controller.settle_delay", "500ms")
	v.SetDefault("controller.access_angle", 90)
	v.SetDefault("controller.stats_retry_delay", "1s")
	v.SetDefault("controller.begin_poll_delay", "500ms")
	v.SetDefault("controller.intensity.min_diff_grams", 1.0)
	v.SetDefault("controller.intensity.max_diff_grams", 4.0)
	v.SetDefault("controller.intensity.max_unchanged_times", 2)
	v.SetDefault("controller.intensity.lowering_rate", 2)

	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.data_dir", "data")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads the YAML config at path. Environment variables prefixed with
// OWC_ override file values (serial.port -> OWC_SERIAL_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("OWC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the rest of the system cannot work with.
func (c *Config) Validate() error {
	if c.Rig.Name == "" {
		return fmt.Errorf("rig.name must not be empty")
	}
	if c.Serial.Retries < 1 {
		return fmt.Errorf("serial.retries must be at least 1, got %d", c.Serial.Retries)
	}
	if len(c.Serial.Terminator) != 1 {
		return fmt.Errorf("serial.terminator must be a single byte, got %q", c.Serial.Terminator)
	}
	if c.Scale.Samples < 1 {
		return fmt.Errorf("scale.samples must be at least 1, got %d", c.Scale.Samples)
	}
	if c.Controller.AccessAngle < 1 || c.Controller.AccessAngle > 179 {
		return fmt.Errorf("controller.access_angle must be in [1, 179], got %d", c.Controller.AccessAngle)
	}
	if c.Controller.Intensity.MinDiffGrams >= c.Controller.Intensity.MaxDiffGrams {
		return fmt.Errorf("controller.intensity.min_diff_grams (%v) must be lower than max_diff_grams (%v)",
			c.Controller.Intensity.MinDiffGrams, c.Controller.Intensity.MaxDiffGrams)
	}
	switch c.Storage.Backend {
	case BackendFile, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
