// Package config loads the gateway's TOML configuration: service.*/
// features.* keys plus the ambient [logging] section, as a typed struct
// with toml tags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the gateway's full configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Features FeaturesConfig `toml:"features"`
	Logging  LoggingConfig  `toml:"logging"`
	Users    []UserConfig   `toml:"users"`
}

// ServiceConfig holds the gateway's service.* configuration keys.
type ServiceConfig struct {
	// Backend is the path to the backend executable spawned by the
	// supervisor (§4.3's spawn contract).
	Backend string `toml:"backend"`

	// JID is the gateway's own XMPP domain or component JID.
	JID string `toml:"jid"`

	// Server/Port is the upstream XMPP host/port in component mode, or the
	// bind host/port in server mode.
	Server string `toml:"server"`
	Port   int    `toml:"port"`

	// ServerMode makes the gateway listen on Server/Port and accept one
	// upstream connection speaking the component protocol (XEP-0114)
	// instead of dialing out as an external component. It is not a full
	// client-to-server XMPP server: there is no SASL, TLS stream feature or
	// resource binding.
	ServerMode bool `toml:"server_mode"`

	// Password is the component handshake secret: sent when dialing out in
	// component mode, and required to verify the accepted stream in server
	// mode.
	Password string `toml:"password"`

	// Cert/CertPassword name an optional PKCS#12 bundle for the upstream
	// TLS client certificate.
	Cert         string `toml:"cert"`
	CertPassword string `toml:"cert_password"`

	// JIDEscaping selects the legacy-name rewrite rule: true applies
	// standard JID node escaping (XEP-0106), false replaces a trailing '@'
	// with '%'.
	JIDEscaping bool `toml:"jid_escaping"`

	// ListenHost/ListenPort is the backend supervisor's own local listener
	// (§4.3), distinct from Server/Port above.
	ListenHost string `toml:"listen_host"`
	ListenPort int    `toml:"listen_port"`

	// PluginDir holds extension plugin executables (internal/extension).
	PluginDir string `toml:"plugin_dir"`

	// DataDir holds the roster cache SQLite database.
	DataDir string `toml:"data_dir"`
}

// FeaturesConfig holds the gateway's features.* configuration keys.
type FeaturesConfig struct {
	// RawXML enables raw-IQ passthrough to backends.
	RawXML bool `toml:"rawxml"`

	// Notifications gates loading extension plugins from PluginDir; false
	// by default. The gate applies to every plugin found there, not only a
	// notification-delivery one.
	Notifications bool `toml:"notifications"`
}

// LoggingConfig is the ambient logging section, independent of any
// service.*/features.* key.
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
}

// UserConfig is one configured legacy identity: the gateway does not
// perform XMPP in-band registration, so the JID -> (legacy_name, password)
// binding used for LOGIN (§8 scenario S1) and the per-user settings §6
// names (send_headlines, enable_notifications) come from configuration.
type UserConfig struct {
	JID                 string `toml:"jid"`
	LegacyName          string `toml:"legacy_name"`
	Password            string `toml:"password"`
	SendHeadlines       bool   `toml:"send_headlines"`
	EnableNotifications bool   `toml:"enable_notifications"`
}

// DefaultConfig returns the configuration used when no config file exists
// yet.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ListenHost: "127.0.0.1",
			ListenPort: 10000,
			Port:       5347,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads path, falling back to DefaultConfig() (with DataDir/PluginDir
// expanded under dir) if path does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		dir := filepath.Dir(path)
		cfg.Service.DataDir = filepath.Join(dir, "data")
		cfg.Service.PluginDir = filepath.Join(dir, "plugins")
		cfg.Logging.File = filepath.Join(dir, "xmppgw.log")
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Service.Backend == "" {
		return nil, fmt.Errorf("config: service.backend is required")
	}
	if cfg.Service.JID == "" {
		return nil, fmt.Errorf("config: service.jid is required")
	}
	if cfg.Service.Server == "" {
		return nil, fmt.Errorf("config: service.server is required")
	}
	if cfg.Service.ServerMode && cfg.Service.Password == "" {
		return nil, fmt.Errorf("config: service.password is required in server mode (handshake secret for accepted component streams)")
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// CredentialTable builds the jidBare -> {legacy_name, password} table
// gateway.StaticCredentials is constructed from.
func (c *Config) CredentialTable() map[string][2]string {
	out := make(map[string][2]string, len(c.Users))
	for _, u := range c.Users {
		out[u.JID] = [2]string{u.LegacyName, u.Password}
	}
	return out
}

// UserSettings looks up the send_headlines/enable_notifications settings
// for jidBare, defaulting to false (headlines downgraded to chat, no
// notification plugin) when the JID has no configured entry.
func (c *Config) UserSettings(jidBare string) (sendHeadlines, enableNotifications bool) {
	for _, u := range c.Users {
		if u.JID == jidBare {
			return u.SendHeadlines, u.EnableNotifications
		}
	}
	return false, false
}
