package helper

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Test database credentials used by MustStartPostgresContainer.
const (
	TestDBName     = "kgraphrag"
	TestDBUser     = "postgres"
	TestDBPassword = "postgres"
)

// MustStartPostgresContainer starts a pgvector-enabled Postgres container
// for integration tests and returns a teardown func plus the mapped host
// port.
func MustStartPostgresContainer() (func(context.Context, ...testcontainers.TerminateOption) error, string, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase(TestDBName),
		postgres.WithUsername(TestDBUser),
		postgres.WithPassword(TestDBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("start postgres container: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return container.Terminate, "", fmt.Errorf("read mapped port: %w", err)
	}

	return container.Terminate, port.Port(), nil
}

// TestDSN builds the lib/pq connection string for the container started by
// MustStartPostgresContainer.
func TestDSN(port string) string {
	return fmt.Sprintf(
		"host=localhost port=%s user=%s password=%s dbname=%s sslmode=disable",
		port, TestDBUser, TestDBPassword, TestDBName,
	)
}
