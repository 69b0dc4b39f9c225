package core

import (
	"fmt"
	"os"
	"time"

	"selectcore/internal/infra/tokenstore/memory"
	"selectcore/internal/infra/tokenstore/postgres"
	"selectcore/internal/infra/tokenstore/sqlite"
	"selectcore/pkg/domain"
)

// TokenStoreDriver identifies a concrete token store implementation.
type TokenStoreDriver string

const (
	TokenStoreMemory   TokenStoreDriver = "memory"   // in-process only (tests / single instance)
	TokenStoreSQLite   TokenStoreDriver = "sqlite"   // embedded sqlite file
	TokenStorePostgres TokenStoreDriver = "postgres" // PostgreSQL server (shared across instances)
)

// OpenTokenStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	SELECTCORE_TOKENSTORE_DRIVER: memory|sqlite|postgres (default sqlite)
//	SELECTCORE_SQLITE_PATH: path to sqlite file (default ./selectcore.db)
//	SELECTCORE_POSTGRES_DSN: postgres DSN when driver=postgres
//	SELECTCORE_TOKEN_TTL: Go duration used when purging (informational;
//	  expiry lives on each token)
func OpenTokenStore() (domain.TokenStore, error) {
	driver := os.Getenv("SELECTCORE_TOKENSTORE_DRIVER")
	if driver == "" {
		driver = string(TokenStoreSQLite)
	}
	switch TokenStoreDriver(driver) {
	case TokenStoreMemory:
		return memory.NewStore(), nil
	case TokenStoreSQLite:
		path := os.Getenv("SELECTCORE_SQLITE_PATH")
		return sqlite.NewStore(path)
	case TokenStorePostgres:
		dsn := os.Getenv("SELECTCORE_POSTGRES_DSN")
		return postgres.NewStore(dsn)
	default:
		return nil, fmt.Errorf("unknown token store driver %s", driver)
	}
}

// TokenTTLFromEnv parses SELECTCORE_TOKEN_TTL, falling back to the default
// on absence or parse failure.
func TokenTTLFromEnv() time.Duration {
	raw := os.Getenv("SELECTCORE_TOKEN_TTL")
	if raw == "" {
		return DefaultTokenTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		return DefaultTokenTTL
	}
	return ttl
}
