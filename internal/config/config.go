package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	AWS      AWSConfig
	Archive  ArchiveConfig
	Bench    BenchConfig
	Sweep    SweepConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	Env            string
	AllowedOrigins []string
}

// AWSConfig holds AWS/S3 configuration
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	S3Endpoint      string
}

// ArchiveConfig selects where raw sweep data is archived
type ArchiveConfig struct {
	Backend string // s3, minio or none
}

// BenchConfig describes the instruments and the device under test
type BenchConfig struct {
	Mode           string
	Transport      string
	Port           string
	LaserGPIB      int
	MeterGPIB      []int
	LaserAddress   string
	MeterAddresses []string
	IOTimeout      time.Duration
	MaxChannel     int
	ITU            []float64
}

// SweepConfig holds the sweep range and timing
type SweepConfig struct {
	Start           float64
	Step            float64
	End             float64
	OpticalPower    float64
	SettleDelay     time.Duration
	DiscardReads    int
	DiscardInterval time.Duration
}

// Load loads configuration from environment variables and .env files
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "dev")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("ARCHIVE_BACKEND", "none")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("AWS_ACCESS_KEY_ID", "")
	viper.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	viper.SetDefault("S3_BUCKET", "plcsweep-archive")
	viper.SetDefault("S3_ENDPOINT", "")

	viper.SetDefault("BENCH_MODE", "simulated")
	viper.SetDefault("BENCH_TRANSPORT", "gpib-serial")
	viper.SetDefault("BENCH_PORT", "/dev/ttyUSB0")
	viper.SetDefault("GPIB_LASER_ADDRESS", 26)
	viper.SetDefault("GPIB_METER_ADDRESSES", "1,2,3,4")
	viper.SetDefault("LASER_ADDRESS", "")
	viper.SetDefault("METER_ADDRESSES", "")
	viper.SetDefault("IO_TIMEOUT", "10s")
	viper.SetDefault("MAX_CHANNEL", 4)
	viper.SetDefault("ITU", "1325,1340,1355,1370")

	viper.SetDefault("SWEEP_START", 1310.0)
	viper.SetDefault("SWEEP_STEP", 0.1)
	viper.SetDefault("SWEEP_END", 1390.0)
	viper.SetDefault("OPTICAL_POWER", 1.0)
	viper.SetDefault("SETTLE_DELAY", "20ms")
	viper.SetDefault("DISCARD_READS", 5)
	viper.SetDefault("DISCARD_INTERVAL", "100ms")

	// Read from .env files based on environment
	env := viper.GetString("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	viper.SetConfigName(".env." + env)
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// Read .env file (ignore error if file doesn't exist)
	_ = viper.ReadInConfig()

	// Environment variables override .env file values
	viper.AutomaticEnv()

	var config Config
	config.Database.URL = viper.GetString("DATABASE_URL")
	config.Server.Port = viper.GetString("PORT")
	config.Server.Env = viper.GetString("ENVIRONMENT")
	config.Server.AllowedOrigins = splitList(viper.GetString("ALLOWED_ORIGINS"))
	config.Archive.Backend = strings.ToLower(viper.GetString("ARCHIVE_BACKEND"))
	config.AWS.Region = viper.GetString("AWS_REGION")
	config.AWS.AccessKeyID = viper.GetString("AWS_ACCESS_KEY_ID")
	config.AWS.SecretAccessKey = viper.GetString("AWS_SECRET_ACCESS_KEY")
	config.AWS.S3Bucket = viper.GetString("S3_BUCKET")
	config.AWS.S3Endpoint = viper.GetString("S3_ENDPOINT")

	config.Bench.Mode = strings.ToLower(viper.GetString("BENCH_MODE"))
	config.Bench.Transport = strings.ToLower(viper.GetString("BENCH_TRANSPORT"))
	config.Bench.Port = viper.GetString("BENCH_PORT")
	config.Bench.LaserGPIB = viper.GetInt("GPIB_LASER_ADDRESS")
	config.Bench.LaserAddress = viper.GetString("LASER_ADDRESS")
	config.Bench.MeterAddresses = splitList(viper.GetString("METER_ADDRESSES"))
	config.Bench.IOTimeout = viper.GetDuration("IO_TIMEOUT")
	config.Bench.MaxChannel = viper.GetInt("MAX_CHANNEL")

	var err error
	if config.Bench.MeterGPIB, err = parseInts(viper.GetString("GPIB_METER_ADDRESSES")); err != nil {
		return nil, fmt.Errorf("GPIB_METER_ADDRESSES: %w", err)
	}
	if config.Bench.ITU, err = parseFloats(viper.GetString("ITU")); err != nil {
		return nil, fmt.Errorf("ITU: %w", err)
	}

	config.Sweep.Start = viper.GetFloat64("SWEEP_START")
	config.Sweep.Step = viper.GetFloat64("SWEEP_STEP")
	config.Sweep.End = viper.GetFloat64("SWEEP_END")
	config.Sweep.OpticalPower = viper.GetFloat64("OPTICAL_POWER")
	config.Sweep.SettleDelay = viper.GetDuration("SETTLE_DELAY")
	config.Sweep.DiscardReads = viper.GetInt("DISCARD_READS")
	config.Sweep.DiscardInterval = viper.GetDuration("DISCARD_INTERVAL")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("bench_mode", config.Bench.Mode).
		Str("transport", config.Bench.Transport).
		Int("channels", config.Bench.MaxChannel).
		Floats64("itu", config.Bench.ITU).
		Strs("allowed_origins", config.Server.AllowedOrigins).
		Msg("Configuration loaded")

	return &config, nil
}

// Validate rejects settings the bench cannot run with
func (c *Config) Validate() error {
	b := c.Bench
	if b.MaxChannel <= 0 {
		return fmt.Errorf("MAX_CHANNEL must be positive, got %d", b.MaxChannel)
	}
	if len(b.ITU) != b.MaxChannel {
		return fmt.Errorf("ITU lists %d wavelengths for %d channels", len(b.ITU), b.MaxChannel)
	}

	switch b.Mode {
	case "simulated":
	case "hardware":
		switch b.Transport {
		case "gpib-serial", "gpib-tcp":
			if b.Port == "" {
				return fmt.Errorf("BENCH_PORT is required for %s", b.Transport)
			}
			if err := checkGPIB(b.LaserGPIB); err != nil {
				return fmt.Errorf("GPIB_LASER_ADDRESS: %w", err)
			}
			if len(b.MeterGPIB) != b.MaxChannel {
				return fmt.Errorf("GPIB_METER_ADDRESSES lists %d meters for %d channels", len(b.MeterGPIB), b.MaxChannel)
			}
			for _, addr := range b.MeterGPIB {
				if err := checkGPIB(addr); err != nil {
					return fmt.Errorf("GPIB_METER_ADDRESSES: %w", err)
				}
			}
		case "tcp", "serial":
			if b.LaserAddress == "" {
				return fmt.Errorf("LASER_ADDRESS is required for %s", b.Transport)
			}
			if len(b.MeterAddresses) != b.MaxChannel {
				return fmt.Errorf("METER_ADDRESSES lists %d meters for %d channels", len(b.MeterAddresses), b.MaxChannel)
			}
		default:
			return fmt.Errorf("unknown BENCH_TRANSPORT %q", b.Transport)
		}
	default:
		return fmt.Errorf("unknown BENCH_MODE %q", b.Mode)
	}

	switch c.Archive.Backend {
	case "none", "s3", "minio":
	default:
		return fmt.Errorf("unknown ARCHIVE_BACKEND %q", c.Archive.Backend)
	}

	s := c.Sweep
	if s.Step <= 0 {
		return fmt.Errorf("SWEEP_STEP must be positive, got %g", s.Step)
	}
	if s.End < s.Start {
		return fmt.Errorf("SWEEP_END %g is below SWEEP_START %g", s.End, s.Start)
	}
	return nil
}

// GetStringOrDefault returns the value from viper if set, otherwise returns the default
func GetStringOrDefault(envVar, def string) string {
	if viper.IsSet(envVar) {
		return viper.GetString(envVar)
	}
	return def
}

func checkGPIB(addr int) error {
	if addr < 0 || addr > 30 {
		return fmt.Errorf("address %d out of range 0-30", addr)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range splitList(s) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}
