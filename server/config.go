package server

import (
	"os"
	"strings"
)

const (
	// ServiceName and Version are reported by the health endpoint.
	ServiceName = "arena-server"
	Version     = "1.2.0"

	// DefaultPort is used when neither PORT nor WS_PORT is set.
	DefaultPort = "3001"
)

// Config holds the environment-driven server settings.
type Config struct {
	Port           string
	Production     bool
	AllowedOrigins []string
	Verbose        bool
}

// LoadConfig reads configuration from the environment. PORT wins over
// WS_PORT; the origin allow-list is a comma-separated ALLOWED_ORIGINS and
// is only enforced when NODE_ENV=production.
func LoadConfig() *Config {
	cfg := &Config{Port: DefaultPort}

	if p := os.Getenv("PORT"); p != "" {
		cfg.Port = p
	} else if p := os.Getenv("WS_PORT"); p != "" {
		cfg.Port = p
	}

	cfg.Production = os.Getenv("NODE_ENV") == "production"

	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	return cfg
}

// OriginAllowed reports whether the given Origin header value passes the
// allow-list. Outside production the check is disabled, as is an empty
// origin (non-browser client) or a "*" entry in the list.
func (c *Config) OriginAllowed(origin string) bool {
	if !c.Production || origin == "" || len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
