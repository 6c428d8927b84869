package config

import (
	"fmt"

	"logiesync/internal/db"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Database  db.Config
	Candidate db.Config
	Server    ServerConfig
	Log       LogConfig
	Audit     AuditConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// AuditConfig holds audit subsystem settings.
type AuditConfig struct {
	RetentionDays int
}

// Load reads config.yaml from configPath with environment overrides
// (LOGIESYNC_DATABASE_HOST and friends). Missing file falls back to defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("LOGIESYNC")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("candidate.dbname")
	v.BindEnv("server.addr")
	v.BindEnv("log.level")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	applyDBOverrides(v, "database", &cfg.Database)
	applyDBOverrides(v, "candidate", &cfg.Candidate)

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.Log.Format = v.GetString("log.format")
	}
	if v.IsSet("audit.retention_days") {
		cfg.Audit.RetentionDays = v.GetInt("audit.retention_days")
	}

	return cfg, nil
}

func applyDBOverrides(v *viper.Viper, section string, cfg *db.Config) {
	if v.IsSet(section + ".host") {
		cfg.Host = v.GetString(section + ".host")
	}
	if v.IsSet(section + ".port") {
		cfg.Port = v.GetInt(section + ".port")
	}
	if v.IsSet(section + ".user") {
		cfg.User = v.GetString(section + ".user")
	}
	if v.IsSet(section + ".password") {
		cfg.Password = v.GetString(section + ".password")
	}
	if v.IsSet(section + ".dbname") {
		cfg.DBName = v.GetString(section + ".dbname")
	}
	if v.IsSet(section + ".sslmode") {
		cfg.SSLMode = v.GetString(section + ".sslmode")
	}
}

// Default returns the baseline configuration. The candidate store defaults to
// a sibling database on the same server, which is where the snapshot builder
// materializes each new source generation.
func Default() Config {
	candidate := db.DefaultConfig()
	candidate.DBName = "logies_registry_candidate"

	return Config{
		Database:  db.DefaultConfig(),
		Candidate: candidate,
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			RetentionDays: 365,
		},
	}
}
