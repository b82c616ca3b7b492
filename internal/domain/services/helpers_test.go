package services

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/mocks"
)

// testEnv wires every service against one in-memory store.
type testEnv struct {
	store      *mocks.Store
	metrics    *mocks.Metrics
	logs       *test.Hook
	types      *RecordTypeService
	txns       *TransactionService
	serializer *Serializer
	writer     *DraftWriter
	approval   *ApprovalService
	inspector  *Inspector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := mocks.NewStore()
	metrics := mocks.NewMetrics()
	types := NewRecordTypeService()
	types.MustRegister(entities.SampleTypes()...)
	require.NoError(t, types.Check())

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	txns := NewTransactionService(store, store, log, metrics)
	serializer := NewSerializer(types, store, store)
	return &testEnv{
		store:      store,
		metrics:    metrics,
		logs:       hook,
		types:      types,
		txns:       txns,
		serializer: serializer,
		writer:     NewDraftWriter(txns, types, serializer),
		approval:   NewApprovalService(txns, types, serializer, store),
		inspector:  NewInspector(types, store, store),
	}
}

func (e *testEnv) recordType(t *testing.T, name string) *entities.RecordType {
	t.Helper()
	rt, err := e.types.Get(name)
	require.NoError(t, err)
	return rt
}

// seed inserts a row directly, bypassing drafts.
func (e *testEnv) seed(t *testing.T, typeName string, columns map[string]any) *entities.Record {
	t.Helper()
	return e.store.Seed(e.recordType(t, typeName), columns)
}

// reload fetches a fresh copy of rec from the store.
func (e *testEnv) reload(t *testing.T, rec *entities.Record) *entities.Record {
	t.Helper()
	found, err := e.store.Find(context.Background(), e.recordType(t, rec.Type), rec.ID)
	require.NoError(t, err)
	return found
}

// draftIn writes drafts inside one new transaction and returns it.
func (e *testEnv) draftIn(t *testing.T, createdBy string, fn func(ctx context.Context) error) *entities.Transaction {
	t.Helper()
	txn, err := e.txns.BeginNew(context.Background(), BeginOptions{CreatedBy: createdBy}, fn)
	require.NoError(t, err)
	require.NotNil(t, txn)
	return txn
}
