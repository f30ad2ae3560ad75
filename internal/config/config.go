// Package config loads the engine's key=value configuration file into a
// validated struct.
package config

import (
	"bytes"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/VochanecA/TextDBX/internal/errs"
)

const (
	DefaultMaxCacheSize   = 100
	DefaultMaxConnections = 10
	DefaultQueryTimeoutMS = 30000

	minEncryptionKeyLength = 32
)

// Config is the fully-validated record the engine is constructed from.
type Config struct {
	Database       string
	EncryptionKey  string
	Mode           string
	Role           string
	MaxCacheSize   int
	MaxConnections int
	QueryTimeoutMS int
}

// Load parses raw key=value text (one pair per line, `#` comments, blank
// lines ignored, values may themselves contain `=`), validates the
// required keys, and applies defaults for the optional ones. Unknown keys
// are ignored. logger receives a warning if encryptionKey looks weak.
func Load(raw []byte, logger *logrus.Logger) (*Config, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errs.New(errs.KindConfig, "configuration file is empty")
	}

	v := viper.New()
	v.SetConfigType("env")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "parse configuration", err)
	}

	v.SetDefault("maxcachesize", DefaultMaxCacheSize)
	v.SetDefault("maxconnections", DefaultMaxConnections)
	v.SetDefault("querytimeout", DefaultQueryTimeoutMS)

	cfg := &Config{
		Database:       v.GetString("database"),
		EncryptionKey:  v.GetString("encryptionkey"),
		Mode:           v.GetString("mode"),
		Role:           v.GetString("role"),
		MaxCacheSize:   v.GetInt("maxcachesize"),
		MaxConnections: v.GetInt("maxconnections"),
		QueryTimeoutMS: v.GetInt("querytimeout"),
	}

	for field, value := range map[string]string{
		"database":      cfg.Database,
		"encryptionKey": cfg.EncryptionKey,
		"mode":          cfg.Mode,
		"role":          cfg.Role,
	} {
		if value == "" {
			return nil, errs.ConfigMissing(field)
		}
	}

	if cfg.Mode != "plain" && cfg.Mode != "encrypted" {
		return nil, errs.New(errs.KindValidation, "mode must be \"plain\" or \"encrypted\", got "+cfg.Mode)
	}

	if len(cfg.EncryptionKey) < minEncryptionKeyLength {
		logger.WithField("length", len(cfg.EncryptionKey)).Warn("config: encryptionKey is shorter than the recommended 32 characters")
	}

	return cfg, nil
}
