package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/database"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/mongodb"
)

var (
	// Shared containers, started at most once per test binary.
	globalPostgres *PostgresContainer
	postgresOnce   sync.Once
	postgresErr    error

	globalMongo *MongoContainer
	mongoOnce   sync.Once
	mongoErr    error
)

// IntegrationSuite provides a base for integration tests against real stores.
type IntegrationSuite struct {
	Postgres *PostgresContainer
	DB       *database.DB
	Mongo    *MongoContainer
	Logger   *logger.Logger
	Fixtures *FixtureFactory
}

// NewPostgresSuite starts (or reuses) the shared PostgreSQL container.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    if !testing.Short() {
//	        s, err := testutil.NewPostgresSuite(context.Background())
//	        if err != nil {
//	            log.Fatal(err)
//	        }
//	        suite = s
//	    }
//	    os.Exit(m.Run())
//	}
func NewPostgresSuite(ctx context.Context) (*IntegrationSuite, error) {
	postgresOnce.Do(func() {
		globalPostgres, postgresErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
	})
	if postgresErr != nil {
		return nil, postgresErr
	}

	log := logger.Nop()
	db, err := database.NewWithDSN(globalPostgres.DSN, log)
	if err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Postgres: globalPostgres,
		DB:       db,
		Logger:   log,
		Fixtures: NewFixtureFactory(),
	}, nil
}

// NewMongoSuite starts (or reuses) the shared MongoDB container.
func NewMongoSuite(ctx context.Context) (*IntegrationSuite, error) {
	mongoOnce.Do(func() {
		globalMongo, mongoErr = NewMongoContainer(ctx, "")
	})
	if mongoErr != nil {
		return nil, mongoErr
	}

	return &IntegrationSuite{
		Mongo:    globalMongo,
		Logger:   logger.Nop(),
		Fixtures: NewFixtureFactory(),
	}, nil
}

// MongoClient connects to a fresh database named after the test. The
// database is dropped when the test ends.
func (s *IntegrationSuite) MongoClient(t *testing.T, ctx context.Context) *mongodb.Client {
	t.Helper()

	name := "t_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	client, err := mongodb.New(ctx, &config.MongoConfig{
		URI:             s.Mongo.URI,
		Database:        name,
		MaxPoolSize:     10,
		ConnectTimeout:  10 * time.Second,
		MaxConnIdleTime: time.Minute,
	}, s.Logger)
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}

	t.Cleanup(func() {
		if err := client.DB.Drop(context.Background()); err != nil {
			t.Logf("warning: failed to drop database %s: %v", name, err)
		}
		_ = client.Close(context.Background())
	})
	return client
}

// ResetTables truncates the given tables so each test starts empty.
func (s *IntegrationSuite) ResetTables(t *testing.T, ctx context.Context, tables ...string) {
	t.Helper()
	if len(tables) == 0 {
		return
	}
	query := fmt.Sprintf("TRUNCATE %s RESTART IDENTITY", strings.Join(tables, ", "))
	if _, err := s.DB.ExecContext(ctx, query); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// TerminateContainers stops the shared containers.
// Only call this in TestMain after all tests have completed.
func TerminateContainers(ctx context.Context) {
	if globalPostgres != nil {
		globalPostgres.Terminate(ctx)
	}
	if globalMongo != nil {
		globalMongo.Terminate(ctx)
	}
}

// UnitTestSuite provides a base for unit tests with mocked dependencies
type UnitTestSuite struct {
	MockDB    *MockDB
	Publisher *MockPublisher
	Fixtures  *FixtureFactory
	t         *testing.T
}

// NewUnitTestSuite creates a new unit test suite
func NewUnitTestSuite(t *testing.T) *UnitTestSuite {
	return &UnitTestSuite{
		MockDB:    NewMockDB(t),
		Publisher: NewMockPublisher(),
		Fixtures:  NewFixtureFactory(),
		t:         t,
	}
}

// Cleanup verifies expectations and cleans up
func (s *UnitTestSuite) Cleanup() {
	s.MockDB.ExpectationsWereMet(s.t)
	s.MockDB.Close()
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// IsCI returns true if running in CI environment
func IsCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}
