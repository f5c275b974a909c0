package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/acl"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Wiki   WikiConfig        `yaml:"wiki"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Wiki.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the path to the revision store directory.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite metadata index configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// WikiConfig holds wiki-wide policy.
//
// DefaultACL applies to items that carry no ACL of their own, in the
// usual "subjects:rights ..." form, e.g.
// "Known:read,write,create,delete All:read".
type WikiConfig struct {
	DefaultACL string `yaml:"default_acl"`
}

// Validate validates the wiki configuration. An unparseable default ACL
// would silently deny everything, so it is rejected here.
func (c *WikiConfig) Validate() error {
	if c.DefaultACL == "" {
		return nil
	}
	if acl.Parse(c.DefaultACL).Empty() {
		return fmt.Errorf("wiki: default_acl %q has no valid entries", c.DefaultACL)
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): every request is anonymous; the ACLs still
//     apply through the All subject. Suitable for local dev.
//   - "token": Bearer tokens map to principal names; Tokens must be
//     non-empty.
type AuthConfig struct {
	Mode string `yaml:"mode"`
	// Tokens maps bearer token -> principal name.
	Tokens map[string]string `yaml:"tokens"`
	// MCPUser is the principal MCP tool calls run as. Empty means
	// anonymous.
	MCPUser string `yaml:"mcp_user"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && len(c.Tokens) == 0 {
		return fmt.Errorf("auth: mode is %q but no tokens are configured", AuthModeToken)
	}
	for tok, user := range c.Tokens {
		if tok == "" || user == "" {
			return fmt.Errorf("auth: tokens entries need both a token and a principal name")
		}
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// TokenMap returns the token table the API middleware consumes: nil in
// disabled mode so every request stays anonymous.
func (c *AuthConfig) TokenMap() map[string]string {
	if !c.AuthEnabled() {
		return nil
	}
	return c.Tokens
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path: "./store",
		},
		SQLite: SQLiteConfig{
			Path: "./ansuz.db",
		},
		Wiki: WikiConfig{
			DefaultACL: "Known:read,write,create,delete All:read",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
