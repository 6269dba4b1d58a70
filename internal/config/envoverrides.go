package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides layers the engine's environment-variable surface (spec
// §6) on top of whatever config.yaml + its defaults already produced.
// DATABASE_URL, when set, takes priority over the individual database
// fields (mirroring the teacher's CI_DATABASE_URL override in
// test/util/database.go, generalized to production use here).
func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		applyDatabaseURL(cfg, raw)
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	cfg.Runtime.IsDev = envBool("IS_DEV", cfg.Runtime.IsDev)
	cfg.Runtime.IsDocker = envBool("IS_DOCKER", cfg.Runtime.IsDocker)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Runtime.CORSOrigins = splitAndTrim(v)
	}

	cfg.Target.AllowHTTP = envBool("ALLOW_HTTP_BASE_URL", cfg.Target.AllowHTTP)
	cfg.Target.AllowLocalhost = envBool("ALLOW_LOCALHOST_BASE_URL", cfg.Target.AllowLocalhost)
	cfg.Target.AllowPrivateNetwork = envBool("ALLOW_PRIVATE_NETWORK_BASE_URL", cfg.Target.AllowPrivateNetwork)

	if v := os.Getenv("CHECKPOINT_CACHE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checkpoint.CacheLimit = n
		}
	}
	if v := os.Getenv("CHECKPOINT_MEMORY_ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Checkpoint.MemoryAlertThreshold = f
		}
	}
	if v := os.Getenv("PAUSE_STATE_DIR"); v != "" {
		cfg.Storage.PauseStateDir = v
	}
}

func applyDatabaseURL(cfg *Config, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	cfg.Database.Host = u.Hostname()
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			cfg.Database.Port = n
		}
	}
	if u.User != nil {
		cfg.Database.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg.Database.Password = pw
		}
	}
	cfg.Database.Database = strings.TrimPrefix(u.Path, "/")
	if mode := u.Query().Get("sslmode"); mode != "" {
		cfg.Database.SSLMode = mode
	}
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
