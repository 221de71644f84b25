package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

type Config struct {
	Port              string
	Store             string
	DBPath            string
	MongoURI          string
	MongoDatabase     string
	JWTSecret         string
	ChatRetention     int
	RetentionInterval time.Duration
	AllowedOrigins    []string
}

// Load reads the server configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:          getenv("PORT", "8080"),
		Store:         strings.ToLower(getenv("INKROOM_STORE", StoreSQLite)),
		DBPath:        getenv("INKROOM_DB_PATH", "./data/inkroom.db"),
		MongoURI:      getenv("INKROOM_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getenv("INKROOM_MONGO_DB", "inkroom"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
	}

	retention, err := strconv.Atoi(getenv("INKROOM_CHAT_RETENTION", "500"))
	if err != nil || retention < 0 {
		return Config{}, fmt.Errorf("invalid INKROOM_CHAT_RETENTION: %q", os.Getenv("INKROOM_CHAT_RETENTION"))
	}
	cfg.ChatRetention = retention

	interval, err := time.ParseDuration(getenv("INKROOM_RETENTION_INTERVAL", "10m"))
	if err != nil || interval <= 0 {
		return Config{}, fmt.Errorf("invalid INKROOM_RETENTION_INTERVAL: %q", os.Getenv("INKROOM_RETENTION_INTERVAL"))
	}
	cfg.RetentionInterval = interval

	for _, origin := range strings.Split(getenv("INKROOM_ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	switch cfg.Store {
	case StoreSQLite, StoreMongo:
	default:
		return Config{}, fmt.Errorf("unknown INKROOM_STORE %q", cfg.Store)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
