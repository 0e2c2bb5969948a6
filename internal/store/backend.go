package store

import (
	"fmt"
	"log"
	"net/url"
	"strings"
)

// BackendKind tags which concrete store a Backend resolved to.
type BackendKind string

const (
	BackendFile     BackendKind = "file"
	BackendPostgres BackendKind = "postgres"
	BackendSQLite   BackendKind = "sqlite"
	BackendMock     BackendKind = "mock"
)

// Backend is the result of the one-time configuration resolution executed at
// startup. Call paths never fall back at runtime; whatever was resolved here
// is what serves every request.
type Backend struct {
	Kind  BackendKind
	Store Store
}

// ResolveBackend picks the store implementation from a DSN. An empty DSN
// selects the in-memory mock with a logged warning, so the fallback is
// observable rather than silent. A file: or bare-path DSN selects the file
// store; postgres: and sqlite: select the relational store.
func ResolveBackend(dsn string, seeds []PageSeed) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		log.Printf("no database DSN configured, using in-memory mock store (data is lost on restart)")
		return Backend{Kind: BackendMock, Store: NewMockStore()}, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return Backend{}, fmt.Errorf("parse dsn: %w", err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Kind: BackendFile, Store: NewFileStore(path)}, nil
	case "postgres", "postgresql":
		relational, err := NewRelationalStore("postgres", dsn, seeds)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Kind: BackendPostgres, Store: relational}, nil
	case "sqlite":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return Backend{}, err
		}
		relational, err := NewRelationalStore("sqlite", path, seeds)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Kind: BackendSQLite, Store: relational}, nil
	case "memory", "mem", "inmem":
		return Backend{Kind: BackendMock, Store: NewMockStore()}, nil
	default:
		return Backend{}, fmt.Errorf("unsupported backend scheme %q: %w", scheme, ErrInvalidInput)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Opaque != "" {
		return parsed.Opaque, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" {
		path = strings.TrimPrefix(raw, parsed.Scheme+":")
		path = strings.TrimPrefix(path, "//")
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("dsn %q has no path: %w", raw, ErrInvalidInput)
	}
	return path, nil
}
