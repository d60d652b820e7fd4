package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// BuildDSN returns a URL-style DSN with sslmode=disable.
func BuildDSN(host string, port uint32, username, password, database string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(username, password),
		Host:     net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10)),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// WithDatabase returns dsn pointing at database instead. Both URL and
// keyword/value DSNs are accepted.
func WithDatabase(dsn, database string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("failed to parse dsn: %w", err)
		}
		u.Path = "/" + database
		return u.String(), nil
	}
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("failed to parse dsn: %w", err)
	}
	return dsn + " dbname=" + quoteKeywordValue(database), nil
}

// DatabaseName extracts the database a DSN points at, for logging. It returns
// "unknown" when the DSN cannot be parsed.
func DatabaseName(dsn string) string {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil || cfg.Database == "" {
		return "unknown"
	}
	return cfg.Database
}

func quoteKeywordValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
