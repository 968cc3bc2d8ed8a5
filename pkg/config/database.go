package config

import "fmt"

// DatabaseConfig configures a SQL connection used by the conversation
// store, the human-agent registry, or any other durable table-backed
// component. Supports PostgreSQL, MySQL, and SQLite through database/sql.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`

	// MaxConns/MaxIdle bound the pool per spec §5 (min 2, max 10 by
	// default; callers may raise it for heavier workloads).
	MaxConns int `yaml:"max_conns,omitempty"`
	MaxIdle  int `yaml:"max_idle,omitempty"`
}

// SetDefaults fills unset fields with the module's standard pool sizing
// and per-driver conventions.
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks the database configuration for internal consistency.
func (c *DatabaseConfig) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("driver is required")
	}

	switch c.Driver {
	case "postgres", "mysql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}

	if c.Database == "" {
		return fmt.Errorf("database is required")
	}

	if c.Driver != "sqlite" && c.Driver != "sqlite3" && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}

	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns/max_idle must be non-negative")
	}

	return nil
}

// DSN returns the connection string for sql.Open.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		if c.SSLMode != "" {
			dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
		}
		return dsn
	case "mysql":
		if c.Username != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.Username, c.Password, c.Host, c.Port, c.Database)
		}
		return fmt.Sprintf("tcp(%s:%d)/%s?parseTime=true", c.Host, c.Port, c.Database)
	case "sqlite", "sqlite3":
		return c.Database
	default:
		return ""
	}
}

// DriverName normalizes "sqlite" to the registered go-sqlite3 driver name.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect normalizes "sqlite3" back to "sqlite" for query-building code
// that branches on dialect rather than driver registration name.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}
