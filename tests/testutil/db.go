//go:build container
// +build container

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/storage/database"
)

const postgresImage = "postgres:16-alpine"

// PrepareDB starts a throwaway Postgres container, migrates it and returns a connection to it.
// Everything is torn down at the end of the test.
func PrepareDB(t testing.TB, conf *core.Config) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       conf.Database.Name,
			"POSTGRES_USER":     conf.Database.User,
			"POSTGRES_PASSWORD": conf.Database.Password,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}
	ctr, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("starting postgres: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	conf.Database.Host = host
	conf.Database.Port = port.Port()
	conf.Database.DisableTLS = true

	db, err := database.Open(ctx, conf)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db.DB); err != nil {
		t.Fatalf("migrating database: %v", err)
	}
	return db
}
