package store

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"chip-settlement/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var testSchemaNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func openStore(t *testing.T) (*Store, context.Context, func()) {
	t.Helper()
	cfg, err := config.LoadTest()
	if err != nil {
		t.Skipf("skip test db: %v", err)
	}
	dsn := cfg.TestPostgresDSN
	schema := fmt.Sprintf("%s_%d", cfg.SchemaPrefix, time.Now().UnixNano())
	base, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open base db: %v", err)
	}
	createSchemaSQL, err := schemaDDL("CREATE SCHEMA %s", schema)
	if err != nil {
		base.Close()
		t.Fatalf("invalid schema name: %v", err)
	}
	if _, err := base.Exec(context.Background(), createSchemaSQL); err != nil {
		base.Close()
		t.Fatalf("create schema: %v", err)
	}
	base.Close()

	st, err := New(withSearchPath(dsn, schema))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ddl, err := InitSchemaSQL()
	if err != nil {
		st.Close()
		t.Fatalf("load schema: %v", err)
	}
	if _, err := st.Pool.Exec(context.Background(), ddl); err != nil {
		st.Close()
		t.Fatalf("apply schema: %v", err)
	}
	cleanup := func() {
		st.Close()
		base, err := pgxpool.New(context.Background(), dsn)
		if err == nil {
			if dropSchemaSQL, ddlErr := schemaDDL("DROP SCHEMA %s CASCADE", schema); ddlErr == nil {
				_, _ = base.Exec(context.Background(), dropSchemaSQL)
			}
			base.Close()
		}
	}
	return st, context.Background(), cleanup
}

// eachRepository runs fn against the memory store and, when a test database
// is configured, against Postgres.
func eachRepository(t *testing.T, fn func(t *testing.T, repo Repository, ctx context.Context)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore(), context.Background())
	})
	t.Run("postgres", func(t *testing.T) {
		st, ctx, cleanup := openStore(t)
		defer cleanup()
		fn(t, st, ctx)
	})
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + url.QueryEscape(schema)
}

func schemaDDL(format, schema string) (string, error) {
	if !testSchemaNamePattern.MatchString(schema) {
		return "", fmt.Errorf("schema %q does not match required pattern", schema)
	}
	return fmt.Sprintf(format, pgx.Identifier{schema}.Sanitize()), nil
}

func mustCredit(t *testing.T, repo Repository, ctx context.Context, address string, amount int64) Account {
	t.Helper()
	acct, err := repo.Credit(ctx, address, amount, "test_seed", NewID())
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	return acct
}

func mustDetect(t *testing.T, repo Repository, ctx context.Context, hash, address, tokens string) Transaction {
	t.Helper()
	txn, _, err := repo.RecordDetected(ctx, Transaction{TxHash: hash, Address: address, TokenAmount: mustDecimal(t, tokens)})
	if err != nil {
		t.Fatalf("record detected: %v", err)
	}
	return txn
}
