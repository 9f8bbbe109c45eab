package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"go-clipnest/internal/models"
	"go-clipnest/internal/relay"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Default file locations and the environment variables read on load.
const (
	DefaultConfigPath = "config.toml"
	DefaultEnvPath    = ".env"

	EnvPort     = "PORT"
	EnvRelayURL = "CLIPNEST_RELAY_URL"
)

// DefaultConfig returns the settings used when config.toml omits a key.
func DefaultConfig() models.Config {
	return models.Config{
		SavePath:           "downloads",
		DatabasePath:       "clipnest.db",
		BleveIndexPath:     "clipnest.bleve",
		RelayHost:          "",
		RelayPort:          3000,
		RelayURL:           relay.DefaultBaseURL,
		RelayTimeoutSec:    30,
		RelayMaxBodyMB:     20,
		UserAgents:         append([]string(nil), relay.DefaultUserAgents...),
		DownloadTimeoutSec: 120,
		NotificationMs:     2000,
		AffordanceMargin:   10,
		AffordanceWidth:    120,
		AffordanceHeight:   32,
		LogHttpRequests:    false,
	}
}

// LoadConfig reads the configuration from the specified path (defaulting to "config.toml")
// on top of DefaultConfig. A missing file is not an error. Environment overrides
// from .env and the process environment are applied last.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = DefaultConfigPath
	}
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
		}
		log.Warnf("Config file %s not found, using defaults", configFilePath)
	} else {
		log.Infof("Configuration loaded from %s", configFilePath)
	}

	if err := LoadDotEnv(DefaultEnvPath); err != nil {
		return models.Config{}, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return models.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return models.Config{}, fmt.Errorf("invalid configuration in %s: %w", configFilePath, err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from path into the process environment without
// replacing ones already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading env file %s: %w", path, err)
	}
	log.Debugf("Environment loaded from %s", path)
	return nil
}

// ApplyEnv copies PORT and CLIPNEST_RELAY_URL onto cfg when set.
func ApplyEnv(cfg *models.Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvPort, v, err)
		}
		cfg.RelayPort = port
	}
	if v := strings.TrimSpace(os.Getenv(EnvRelayURL)); v != "" {
		cfg.RelayURL = v
	}
	return nil
}
