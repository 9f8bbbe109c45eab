package models

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

type (
	Config struct {
		// Paths
		SavePath       string `toml:"SavePath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Relay
		RelayHost       string   `toml:"RelayHost"`
		RelayPort       int      `toml:"RelayPort"`
		RelayURL        string   `toml:"RelayURL"` // Base URL the harvest session talks to
		RelayTimeoutSec int      `toml:"RelayTimeoutSec"`
		RelayMaxBodyMB  int      `toml:"RelayMaxBodyMB"`
		UserAgents      []string `toml:"UserAgents"`

		// Downloads
		DownloadTimeoutSec int `toml:"DownloadTimeoutSec"`

		// Capture affordance and notifications
		NotificationMs    int      `toml:"NotificationMs"`
		AffordanceMargin  float64  `toml:"AffordanceMargin"`
		AffordanceWidth   float64  `toml:"AffordanceWidth"`
		AffordanceHeight  float64  `toml:"AffordanceHeight"`
		ScannerExtensions []string `toml:"ScannerExtensions"` // Empty keeps the loose non-empty-src rule

		// Other
		LogHttpRequests bool `toml:"LogHttpRequests"`
	}

	// ImageDescriptor is an image reference found on a page, before it is collected.
	ImageDescriptor struct {
		URL   string `json:"url" yaml:"url"`
		Title string `json:"title" yaml:"title"`
	}

	// ImageRecord is a collected image as persisted by the store.
	ImageRecord struct {
		ID         int64  `json:"id" yaml:"id" parquet:"id"`
		URL        string `json:"url" yaml:"url" parquet:"url"`
		Title      string `json:"title" yaml:"title" parquet:"title"`
		Timestamp  int64  `json:"timestamp" yaml:"timestamp" parquet:"timestamp"` // ms since epoch
		SourcePage string `json:"sourcePage" yaml:"sourcePage" parquet:"source_page"`
	}
)

// PickTitle returns alt, falling back to title, falling back to "".
func PickTitle(alt, title string) string {
	if alt != "" {
		return alt
	}
	return title
}

// Descriptor returns the descriptor the record was created from.
func (r ImageRecord) Descriptor() ImageDescriptor {
	return ImageDescriptor{URL: r.URL, Title: r.Title}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.SavePath == "":
		return errors.New("SavePath must not be empty")
	case c.DatabasePath == "":
		return errors.New("DatabasePath must not be empty")
	case c.RelayPort < 0 || c.RelayPort > 65535:
		return fmt.Errorf("RelayPort %d is out of range", c.RelayPort)
	case c.RelayTimeoutSec <= 0:
		return fmt.Errorf("RelayTimeoutSec must be positive, got %d", c.RelayTimeoutSec)
	case c.RelayMaxBodyMB <= 0:
		return fmt.Errorf("RelayMaxBodyMB must be positive, got %d", c.RelayMaxBodyMB)
	case c.DownloadTimeoutSec <= 0:
		return fmt.Errorf("DownloadTimeoutSec must be positive, got %d", c.DownloadTimeoutSec)
	case c.NotificationMs <= 0:
		return fmt.Errorf("NotificationMs must be positive, got %d", c.NotificationMs)
	case c.AffordanceWidth <= 0 || c.AffordanceHeight <= 0 || c.AffordanceMargin < 0:
		return errors.New("affordance geometry must have a positive size and a non-negative margin")
	}
	return nil
}

// RelayAddr is the listen address of the relay server.
func (c *Config) RelayAddr() string {
	return net.JoinHostPort(c.RelayHost, strconv.Itoa(c.RelayPort))
}

func (c *Config) RelayTimeout() time.Duration {
	return time.Duration(c.RelayTimeoutSec) * time.Second
}

func (c *Config) RelayMaxBodyBytes() int64 {
	return int64(c.RelayMaxBodyMB) << 20
}

func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

func (c *Config) NotificationTTL() time.Duration {
	return time.Duration(c.NotificationMs) * time.Millisecond
}
