package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/mocks"
	"github.com/ersonp/draft-core/internal/domain/ports"
	"github.com/ersonp/draft-core/internal/domain/services"
	"github.com/ersonp/draft-core/internal/infrastructure/config"
	"github.com/ersonp/draft-core/internal/infrastructure/relationaldb/postgres"
	"github.com/ersonp/draft-core/internal/infrastructure/relationaldb/sqlite"
)

// postgresDSNEnv names a database the tests may create and drop tables in.
const postgresDSNEnv = "DRAFT_POSTGRES_TEST_DSN"

// store is what both database backends provide.
type store interface {
	ports.DraftStore
	ports.RecordStore
	ports.TxRunner
	EnsureSchema(ctx context.Context) error
	EnsureRecordTables(ctx context.Context, types []*entities.RecordType) error
	Close() error
}

// stack wires every service against one real store.
type stack struct {
	store    store
	metrics  *mocks.Metrics
	types    *services.RecordTypeService
	txns     *services.TransactionService
	writer   *services.DraftWriter
	approval *services.ApprovalService
}

func newStack(t *testing.T, db store) *stack {
	t.Helper()

	types := services.NewRecordTypeService()
	types.MustRegister(entities.SampleTypes()...)
	require.NoError(t, types.Check())

	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.EnsureRecordTables(ctx, types.List()))

	log, _ := test.NewNullLogger()
	metrics := mocks.NewMetrics()
	txns := services.NewTransactionService(db, db, log, metrics)
	serializer := services.NewSerializer(types, db, db)

	return &stack{
		store:    db,
		metrics:  metrics,
		types:    types,
		txns:     txns,
		writer:   services.NewDraftWriter(txns, types, serializer),
		approval: services.NewApprovalService(txns, types, serializer, db),
	}
}

func (s *stack) recordType(t *testing.T, name string) *entities.RecordType {
	t.Helper()
	rt, err := s.types.Get(name)
	require.NoError(t, err)
	return rt
}

// seed inserts a row directly, bypassing drafts.
func (s *stack) seed(t *testing.T, typeName string, columns map[string]any) *entities.Record {
	t.Helper()
	rt := s.recordType(t, typeName)
	id, err := s.store.Insert(context.Background(), rt, columns)
	require.NoError(t, err)
	rec, err := s.store.Find(context.Background(), rt, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func (s *stack) all(t *testing.T, typeName string) []*entities.Record {
	t.Helper()
	rows, err := s.store.ListBy(context.Background(), s.recordType(t, typeName), nil)
	require.NoError(t, err)
	return rows
}

// draftIn writes drafts inside one new transaction and returns it.
func (s *stack) draftIn(t *testing.T, createdBy string, fn func(ctx context.Context) error) *entities.Transaction {
	t.Helper()
	txn, err := s.txns.BeginNew(context.Background(), services.BeginOptions{CreatedBy: createdBy}, fn)
	require.NoError(t, err)
	require.NotNil(t, txn)
	return txn
}

// openSQLite opens a file database in a temp directory.
func openSQLite(t *testing.T) *stack {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "draft.db")
	repo, err := sqlite.NewRepository(config.SQLiteConfig{Path: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	_, err = os.Stat(dbPath)
	require.NoError(t, err, "database file should exist")
	return newStack(t, repo)
}

// openPostgres connects to the test database with empty tables. It skips
// the test when no database is configured.
func openPostgres(t *testing.T) *stack {
	t.Helper()
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}

	ctx := context.Background()
	dropTables(t, dsn)
	t.Cleanup(func() { dropTables(t, dsn) })

	repo, err := postgres.NewRepository(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return newStack(t, repo)
}

func dropTables(t *testing.T, dsn string) {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	defer conn.Close(ctx)

	tables := []string{"drafts", "draft_transactions"}
	for _, rt := range entities.SampleTypes() {
		tables = append(tables, rt.Table)
	}
	for _, table := range tables {
		_, err := conn.Exec(ctx, `DROP TABLE IF EXISTS "`+table+`"`)
		require.NoError(t, err)
	}
}

// backends runs fn once per available database.
func backends(t *testing.T, fn func(t *testing.T, s *stack)) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, openPostgres(t)) })
}
