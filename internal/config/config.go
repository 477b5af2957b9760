// Package config handles loading and validating the document server's
// configuration from a config.json file.
//
// The configuration file is expected to be a JSON object with the HTTP
// listen address, this process's CRDT site id, an optional virtual
// filesystem root document, an optional commit store connection
// string, and an optional message broker address to probe at startup.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Config holds all application configuration loaded from config.json.
// The file is read once at startup; changes require a restart.
type Config struct {
	// ListenAddr is the HTTP listen address (default ":8787").
	ListenAddr string `json:"listenAddr"`

	// SiteID identifies this process in every document's CRDT op log.
	// Defaults to a generated id when empty.
	SiteID string `json:"siteId,omitempty"`

	// FsRootID, if set, names the document that serves as the root of
	// the virtual filesystem; the reconciler and the /fs-root endpoint
	// are only active when this is set.
	FsRootID string `json:"fsRootId,omitempty"`

	// CommitStoreDSN is a PostgreSQL connection string for the commit
	// log. Empty selects the in-memory commit store, which is fine for
	// a single-process deployment but doesn't survive a restart.
	CommitStoreDSN string `json:"commitStoreDSN,omitempty"`

	// BrokerAddr is the message broker's host:port. When set, the
	// server probes it at startup (a 5-second TCP connect) and treats
	// an unreachable broker as fatal.
	BrokerAddr string `json:"brokerAddr,omitempty"`

	// SigningKey is a k256 private key in multibase format. When set,
	// every persisted commit is signed with it; when empty, commits are
	// unsigned, which is fine for a single-operator deployment with no
	// downstream verifier.
	SigningKey string `json:"signingKey,omitempty"`
}

// Load reads and parses configuration from the given file path.
// It returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8787"
	}
	if cfg.SiteID == "" {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("config: generate siteId: %w", err)
		}
		cfg.SiteID = hex.EncodeToString(b[:])
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks structural invariants beyond simple defaulting.
func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listenAddr is required")
	}
	return nil
}
