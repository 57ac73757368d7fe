package app

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/santaserver/santaserver/internal/database"
)

// ConnectionConfig converts the database section into database.Config. A DSN in URL
// form (DATABASE_URL) selects the driver from its scheme.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	host := c.hostAuth()
	cfg := database.Config{
		Driver:   strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:     strings.TrimSpace(c.Path),
		DSN:      strings.TrimSpace(c.DSN),
		Host:     host.Host,
		Port:     host.Port,
		Name:     host.Database,
		User:     host.Username,
		Password: host.Password,
		LogLevel: c.LogLevel,
	}

	u, err := url.Parse(cfg.DSN)
	if err != nil || !strings.Contains(cfg.DSN, "://") {
		return cfg
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		cfg.Driver = "postgres"
	case "sqlite", "sqlite3":
		// sqlite:///relative.db and sqlite:////abs/path.db
		cfg.Driver = "sqlite"
		cfg.Path = strings.TrimPrefix(u.Path, "/")
		cfg.DSN = ""
	case "mysql", "mariadb":
		// go-sql-driver does not take URLs, so split it into discrete fields.
		cfg.Driver = "mysql"
		cfg.DSN = ""
		cfg.Host = u.Hostname()
		if port, err := strconv.Atoi(u.Port()); err == nil {
			cfg.Port = port
		}
		cfg.Name = strings.TrimPrefix(u.Path, "/")
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
		if q := u.Query(); len(q) > 0 {
			cfg.Options = make(map[string]string, len(q))
			for key := range q {
				cfg.Options[key] = q.Get(key)
			}
		}
	}
	return cfg
}
