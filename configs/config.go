package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"runwrap/pkg/models"
)

type Config struct {
	// Timezone pins timestamp rendering for the runner and is exported
	// as TZ to every child it launches.
	Timezone string

	// CondaBase is the root of the conda installation holding the named
	// execution environments (envs/<name>).
	CondaBase string

	JobsFile string

	// PropagateExitCode makes the runner's own exit code mirror the
	// captured child status. The original wrappers left this ambiguous;
	// we follow the common convention and propagate by default.
	PropagateExitCode bool

	// StrictDeactivate turns environment release failure into a runner
	// failure. Off by default: release is best-effort.
	StrictDeactivate bool

	// Storage. Sqlite is the default; a postgres DSN is built from the
	// DB_* variables when DB_DRIVER=postgres.
	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Run log archive.
	RunLogDir   string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string

	// Daemon surface.
	APIPort string
	APIKey  string

	// ShutdownTimeout bounds graceful shutdown in seconds: the API
	// server draining plus in-flight runs finishing.
	ShutdownTimeout int

	LogLevel    string
	LogEncoding string

	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() *Config {
	return &Config{
		Timezone:          getEnv("RUNWRAP_TZ", "America/New_York"),
		CondaBase:         getEnv("CONDA_BASE", defaultCondaBase()),
		JobsFile:          getEnv("RUNWRAP_JOBS_FILE", "jobs.yaml"),
		PropagateExitCode: getEnvAsBool("RUNWRAP_PROPAGATE_EXIT_CODE", true),
		StrictDeactivate:  getEnvAsBool("RUNWRAP_STRICT_DEACTIVATE", false),
		DBDriver:          getEnv("DB_DRIVER", "sqlite"),
		DBPath:            getEnv("DB_PATH", "runwrap.db"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "runwrap"),
		DBPassword:        getEnv("DB_PASSWORD", "password"),
		DBName:            getEnv("DB_NAME", "runwrap"),
		RunLogDir:         getEnv("RUNWRAP_LOG_DIR", "/var/log/runwrap"),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Prefix:          getEnv("S3_PREFIX", "runs/"),
		S3AccessKey:       getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:       getEnv("S3_SECRET_ACCESS_KEY", ""),
		APIPort:           getEnv("API_PORT", "8080"),
		APIKey:            getEnv("API_KEY", ""),
		ShutdownTimeout:   getEnvAsInt("RUNWRAP_SHUTDOWN_TIMEOUT", 30),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogEncoding:       getEnv("LOG_ENCODING", "json"),
		TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", "localhost:4318"),
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// PostgresDSN builds the connection string for DB_DRIVER=postgres.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// jobsFile is the on-disk shape of the jobs manifest.
type jobsFile struct {
	Jobs []models.JobSpec `yaml:"jobs"`
}

// LoadJobs reads and validates the jobs manifest.
func LoadJobs(path string) ([]models.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Jobs))
	for _, spec := range f.Jobs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate job name %q", spec.Name)
		}
		seen[spec.Name] = true
	}

	return f.Jobs, nil
}

func defaultCondaBase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/opt/miniconda3"
	}
	return filepath.Join(home, "miniconda3")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
