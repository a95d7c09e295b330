package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                 = "8080"
	defaultAPIURL               = "https://api.github.com/"
	defaultBranch               = "main"
	defaultRequestTimeout       = 30 * time.Second
	defaultConflictRetries      = 1
	defaultHistoryMaxCount      = 100
	defaultMaxBodyBytes   int64 = 50 * 1024 * 1024 // 50MB, base64 payloads inflate ~4/3
)

// ErrConfig marks a missing or invalid configuration value.
var ErrConfig = errors.New("invalid configuration")

// Config captures server runtime configuration.
type Config struct {
	Port           string
	AllowedOrigins []string
	JWTSecret      string
	DatabaseURL    string
	MaxBodyBytes   int64

	GitHubAPIURL         string
	GitHubAppID          int64
	GitHubPrivateKey     string
	GitHubInstallationID int64
	GitHubOwner          string
	GitHubRepo           string
	GitHubBranch         string
	RequestTimeout       time.Duration

	ConflictRetries int
	HistoryMaxCount int
}

// Load reads environment variables into a Config structure.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", defaultPort),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MaxBodyBytes:   parseInt64("MAX_BODY_BYTES", defaultMaxBodyBytes),

		GitHubAPIURL:         getEnv("GITHUB_API_URL", defaultAPIURL),
		GitHubAppID:          parseInt64("GITHUB_APP_ID", 0),
		GitHubPrivateKey:     unescapeKey(os.Getenv("GITHUB_PRIVATE_KEY")),
		GitHubInstallationID: parseInt64("GITHUB_INSTALLATION_ID", 0),
		GitHubOwner:          strings.TrimSpace(os.Getenv("GITHUB_USER")),
		GitHubRepo:           strings.TrimSpace(os.Getenv("GITHUB_REPO")),
		GitHubBranch:         getEnv("GITHUB_BRANCH", defaultBranch),
		RequestTimeout:       parseDuration("GITHUB_REQUEST_TIMEOUT", defaultRequestTimeout),

		ConflictRetries: int(parseInt64("COMMIT_CONFLICT_RETRIES", defaultConflictRetries)),
		HistoryMaxCount: int(parseInt64("HISTORY_MAX_COUNT", defaultHistoryMaxCount)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the GitHub settings every command needs and clamps tunables.
func (c *Config) Validate() error {
	if c.GitHubAppID <= 0 {
		return fmt.Errorf("%w: GITHUB_APP_ID is required", ErrConfig)
	}
	if c.GitHubPrivateKey == "" {
		return fmt.Errorf("%w: GITHUB_PRIVATE_KEY is required", ErrConfig)
	}
	if c.GitHubOwner == "" {
		return fmt.Errorf("%w: GITHUB_USER is required", ErrConfig)
	}
	if c.GitHubRepo == "" {
		return fmt.Errorf("%w: GITHUB_REPO is required", ErrConfig)
	}
	if c.GitHubBranch == "" {
		c.GitHubBranch = defaultBranch
	}
	if !strings.HasSuffix(c.GitHubAPIURL, "/") {
		c.GitHubAPIURL += "/"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ConflictRetries < 0 {
		c.ConflictRetries = 0
	}
	if c.HistoryMaxCount <= 0 || c.HistoryMaxCount > defaultHistoryMaxCount {
		c.HistoryMaxCount = defaultHistoryMaxCount
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	return nil
}

// RequireServe checks the settings only the HTTP server needs.
func (c *Config) RequireServe() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required", ErrConfig)
	}
	return nil
}

// RepoKey identifies the target branch, e.g. "owner/repo@main".
func (c *Config) RepoKey() string {
	return c.GitHubOwner + "/" + c.GitHubRepo + "@" + c.GitHubBranch
}

// unescapeKey turns a newline-escaped PEM (as stored in most secret managers) back into PEM.
func unescapeKey(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), `\n`, "\n")
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt64(key string, fallback int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return dur
}
