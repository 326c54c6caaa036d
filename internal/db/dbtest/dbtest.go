// Package dbtest starts a throwaway Postgres for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"studyquiz/internal/db"
)

const integrationEnv = "STUDYQUIZ_INTEGRATION"

// Open starts a postgres container, applies every migration and returns a
// pool to it. The test is skipped unless STUDYQUIZ_INTEGRATION=1 and Docker
// is reachable.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv(integrationEnv) != "1" {
		t.Skipf("set %s=1 to run integration tests", integrationEnv)
	}
	requireDocker(t)

	ctx := context.Background()
	dsn, cleanup := startPostgres(t, ctx)
	t.Cleanup(cleanup)

	sqldb, err := db.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })

	if _, err := db.Migrate(ctx, sqldb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqldb
}

// CreateUser inserts a user row directly and returns its id.
func CreateUser(t *testing.T, sqldb *sql.DB, username string) int64 {
	t.Helper()
	var id int64
	err := sqldb.QueryRowContext(context.Background(),
		`INSERT INTO users (username, password_hash) VALUES ($1, 'x') RETURNING user_id`, username,
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "studyquiz"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/studyquiz?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
