package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/stackdesk/stackdesk/internal/auth"
)

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN)
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// Base URL used when rendering token redemption links
	ServerURL string

	// Maximum database connection pool size
	MaxDBConnections int

	// Enable debug logging
	Debug bool

	// Shared secret used to verify requester JWTs
	JWTSecret string

	// Lifetime of task tokens from creation
	TokenTTL time.Duration

	// Interval between expired-token purge sweeps (0 disables the sweeper)
	TokenPurgeInterval time.Duration

	// ManagedRoles maps requester roles to the roles they may grant
	ManagedRoles auth.RoleMap

	// IdentityBackend selects the identity gateway implementation
	// ("memory" is the only built-in; real backends plug in here)
	IdentityBackend string
}

// Load reads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", "stackdesk.db"),
		ServerAddr:         getEnv("SERVER_ADDR", "localhost:8080"),
		ServerURL:          getEnv("SERVER_URL", "http://localhost:8080"),
		MaxDBConnections:   getEnvInt("MAX_DB_CONNECTIONS", 25),
		Debug:              getEnvBool("DEBUG", false),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenTTL:           getEnvDuration("TOKEN_TTL", 24*time.Hour),
		TokenPurgeInterval: getEnvDuration("TOKEN_PURGE_INTERVAL", time.Hour),
		IdentityBackend:    getEnv("IDENTITY_BACKEND", "memory"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive")
	}

	roles, err := loadManagedRoles(getEnv("MANAGED_ROLES_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.ManagedRoles = roles

	return cfg, nil
}

// loadManagedRoles reads the role mapping JSON file, falling back to the
// built-in defaults when no file is configured.
func loadManagedRoles(path string) (auth.RoleMap, error) {
	if path == "" {
		return auth.DefaultRoleMap(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read managed roles file: %w", err)
	}

	var roles auth.RoleMap
	if err := json.Unmarshal(data, &roles); err != nil {
		return nil, fmt.Errorf("parse managed roles file: %w", err)
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("managed roles file %s defines no mappings", path)
	}
	return roles, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
