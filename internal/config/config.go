package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"metesad/internal/errors"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Paths    PathConfig
	Run      RunConfig
	Solver   SolverConfig
	Density  DensityConfig
	Database DatabaseConfig
	Export   ExportConfig
	LogLevel string
}

// PathConfig holds file system paths
type PathConfig struct {
	DataDir       string
	ResultsDir    string
	CheckpointDir string
}

// RunConfig controls which communities are analysed and how hard
type RunConfig struct {
	// Datasets empty means every <name>_spab file found in DataDir
	Datasets        []string
	MinSpecies      int
	Replicates      int
	Seed            int64
	Workers         int
	CheckpointEvery int
}

// SolverConfig tunes the Lagrange multiplier solve
type SolverConfig struct {
	Tolerance     float64
	MaxIter       int
	PrecisionBits uint
}

// DensityConfig holds the neighbour radius as a fraction of the plot extent
type DensityConfig struct {
	Radius float64
}

// DatabaseConfig is optional; an empty URL disables the Postgres mirror
type DatabaseConfig struct {
	URL string
}

// ExportConfig holds optional outputs
type ExportConfig struct {
	XLSX bool
}

// Load reads .env if present, then the environment, and validates the result
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only
func FromEnv() (*Config, error) {
	resultsDir := getEnvOrDefault("RESULTS_DIR", "results")
	config := &Config{
		Paths: PathConfig{
			DataDir:       getEnvOrDefault("DATA_DIR", "data"),
			ResultsDir:    resultsDir,
			CheckpointDir: getEnvOrDefault("CHECKPOINT_DIR", filepath.Join(resultsDir, "checkpoints")),
		},
		Run: RunConfig{
			Datasets:        SplitList(os.Getenv("DATASETS")),
			MinSpecies:      getEnvIntOrDefault("MIN_SPECIES", 9),
			Replicates:      getEnvIntOrDefault("REPLICATES", 100),
			Seed:            getEnvInt64OrDefault("SEED", 1),
			Workers:         getEnvIntOrDefault("WORKERS", runtime.NumCPU()),
			CheckpointEvery: getEnvIntOrDefault("CHECKPOINT_EVERY", 50),
		},
		Solver: SolverConfig{
			Tolerance:     getEnvFloatOrDefault("SOLVER_TOLERANCE", 1e-16),
			MaxIter:       getEnvIntOrDefault("SOLVER_MAX_ITER", 500),
			PrecisionBits: uint(getEnvIntOrDefault("PRECISION_BITS", 256)),
		},
		Density: DensityConfig{
			Radius: getEnvFloatOrDefault("DENSITY_RADIUS", 0.05),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Export: ExportConfig{
			XLSX: getEnvBoolOrDefault("EXPORT_XLSX", false),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Validate checks ranges; CLI overrides should call it again
func (c *Config) Validate() error {
	switch {
	case c.Paths.DataDir == "":
		return errors.ConfigInvalid("data directory is required")
	case c.Paths.ResultsDir == "":
		return errors.ConfigInvalid("results directory is required")
	case c.Run.MinSpecies < 0:
		return errors.ConfigInvalid("MIN_SPECIES must be non-negative")
	case c.Run.Replicates < 0:
		return errors.ConfigInvalid("REPLICATES must be non-negative")
	case c.Run.Workers < 1:
		return errors.ConfigInvalid("WORKERS must be at least 1")
	case c.Run.CheckpointEvery < 1:
		return errors.ConfigInvalid("CHECKPOINT_EVERY must be at least 1")
	case c.Solver.Tolerance <= 0:
		return errors.ConfigInvalid("SOLVER_TOLERANCE must be positive")
	case c.Solver.MaxIter < 1:
		return errors.ConfigInvalid("SOLVER_MAX_ITER must be at least 1")
	case c.Solver.PrecisionBits < 64:
		return errors.ConfigInvalid("PRECISION_BITS must be at least 64")
	case c.Density.Radius <= 0 || c.Density.Radius >= 1:
		return errors.ConfigInvalid("DENSITY_RADIUS must be in (0, 1)")
	}
	return nil
}

// SplitList parses a comma separated list, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
