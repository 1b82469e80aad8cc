package remote

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/loamdev/loam/internal/errors"
)

// Options carries backend settings that are not part of the DSN.
type Options struct {
	// Token is the bearer token for HTTP backends. Ignored elsewhere.
	Token string

	// HTTPClient overrides the default client for HTTP backends.
	HTTPClient *http.Client
}

// Open selects a backend by DSN scheme:
//
//	memory://                     in-process, volatile
//	http(s)://host[/prefix]       JSON document API
//	postgres://user@host/db       shared Postgres table
func Open(dsn string, opts Options) (Gateway, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.NewInvalidRequest("remote dsn must not be empty")
	}

	scheme := dsn
	if i := strings.Index(dsn, "://"); i >= 0 {
		scheme = dsn[:i]
	}

	switch strings.ToLower(scheme) {
	case "memory":
		return NewMemoryGateway(), nil
	case "http", "https":
		return NewHTTPGateway(dsn, opts.Token, opts.HTTPClient), nil
	case "postgres", "postgresql":
		return NewPostgresGateway(dsn)
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported remote dsn scheme %q", scheme))
	}
}
