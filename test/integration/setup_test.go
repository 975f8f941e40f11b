package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mclinic/mclinic/internal/domain/identity"
	"github.com/mclinic/mclinic/internal/platform/db"
	"github.com/mclinic/mclinic/migrations"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is the package-level test database, initialized once in TestMain.
var globalDB *testDB

// TestMain connects to TEST_DATABASE_URL, or starts a throwaway Postgres
// container when TEST_POSTGRES_DOCKER=1. Without either the suite is skipped.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" && os.Getenv("TEST_POSTGRES_DOCKER") == "1" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
			os.Exit(1)
		}
	}
	if connStr == "" {
		fmt.Println("skipping integration tests: TEST_DATABASE_URL not set")
		os.Exit(0)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "create pool: %v\n", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "ping database: %v\n", err)
		os.Exit(1)
	}

	globalDB = &testDB{Pool: pool, ConnStr: connStr}
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// newSchemaPool creates an isolated schema, migrates it and returns a pool
// whose connections use it as their search_path. The schema is dropped
// when the test ends.
func newSchemaPool(t *testing.T, prefix string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := fmt.Sprintf("test_%s_%s", prefix, strings.ReplaceAll(uuid.New().String()[:8], "-", ""))

	if _, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(globalDB.ConnStr)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create schema pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if _, err := globalDB.Pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate schema %s: %v", schema, err)
	}
	return pool
}

// createTestUser signs up a user through the account repository.
func createTestUser(t *testing.T, pool *pgxpool.Pool, name, email, role string) string {
	t.Helper()
	id := uuid.New().String()
	err := identity.NewAccountRepo(pool).Create(context.Background(),
		&identity.Account{UserID: id, Email: email, PasswordHash: "hash", Role: role},
		&identity.NewUser{ID: id, FullName: name, Email: email, UserType: role})
	if err != nil {
		t.Fatalf("create test user %s: %v", email, err)
	}
	return id
}

func ptrStr(s string) *string { return &s }
