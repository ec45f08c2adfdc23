//go:build integration
// +build integration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"

	"github.com/liamcoop/fairscore/migrations"
)

// setupTestDB starts PostgreSQL, applies the embedded migrations and returns a connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "fairscore_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	databaseURL := fmt.Sprintf("postgres://test:test@%s:%s/fairscore_test?sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", databaseURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := migrations.Up(databaseURL); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		container.Terminate(ctx)
	}

	return db, cleanup
}

func TestPostgresRunStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	runStoreContract(t, NewPostgresRunStore(db))
}

// TestPostgresRunStoreCascade verifies deleting a run removes its rows
func TestPostgresRunStoreCascade(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := NewPostgresRunStore(db)

	if err := s.BeginRun(ctx, testReport("cascade", time.Now().UTC())); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := s.AppendRow(ctx, "cascade", testRow("c-1")); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}

	if _, err := db.Exec(`DELETE FROM runs WHERE id = $1`, "cascade"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM evaluation_rows WHERE run_id = $1`, "cascade").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("%d rows survived run deletion", n)
	}
}
