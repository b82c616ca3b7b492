package mocks

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

// ErrUnknownColumn is returned when a record write names a column its type
// does not declare, like a database would.
var ErrUnknownColumn = errors.New("unknown column")

type txKey struct{}

// Store is an in-memory implementation of ports.DraftStore,
// ports.RecordStore and ports.TxRunner. InTx snapshots the whole store and
// restores it when fn fails, so rollback behaves like a database. Only one
// transaction runs at a time; reads outside a transaction see uncommitted
// writes.
type Store struct {
	// Err, when set, is returned by every store method.
	Err error
	// Fail maps a method name such as "Insert" to an error it returns.
	Fail map[string]error
	// FailInsert, when set, is consulted before every Insert.
	FailInsert func(rt *entities.RecordType, columns map[string]any) error

	txMu sync.Mutex
	mu   sync.Mutex

	transactions map[string]*entities.Transaction
	drafts       []*entities.Draft
	records      map[string]map[string]map[string]any // table -> id -> columns
	nextID       int

	commits   int
	rollbacks int
	locks     []string
}

// NewStore creates an empty mock store.
func NewStore() *Store {
	return &Store{
		Fail:         make(map[string]error),
		transactions: make(map[string]*entities.Transaction),
		records:      make(map[string]map[string]map[string]any),
	}
}

type snapshot struct {
	transactions map[string]*entities.Transaction
	drafts       []*entities.Draft
	records      map[string]map[string]map[string]any
	nextID       int
}

// InTx runs fn as a transaction. Nested calls join the outer transaction.
// Like a database driver it refuses to begin once ctx is done.
func (m *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(bool); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	saved := m.snapshot()
	defer func() {
		if p := recover(); p != nil {
			m.restore(saved)
			panic(p)
		}
		if err != nil {
			m.restore(saved)
			return
		}
		m.mu.Lock()
		m.commits++
		m.mu.Unlock()
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func (m *Store) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := snapshot{
		transactions: make(map[string]*entities.Transaction, len(m.transactions)),
		drafts:       make([]*entities.Draft, len(m.drafts)),
		records:      make(map[string]map[string]map[string]any, len(m.records)),
		nextID:       m.nextID,
	}
	for id, txn := range m.transactions {
		s.transactions[id] = copyTransaction(txn)
	}
	for i, d := range m.drafts {
		s.drafts[i] = copyDraft(d)
	}
	for table, rows := range m.records {
		copied := make(map[string]map[string]any, len(rows))
		for id, row := range rows {
			copied[id] = maps.Clone(row)
		}
		s.records[table] = copied
	}
	return s
}

func (m *Store) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transactions = s.transactions
	m.drafts = s.drafts
	m.records = s.records
	m.nextID = s.nextID
	m.rollbacks++
}

// Commits returns how many outermost transactions committed.
func (m *Store) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Rollbacks returns how many outermost transactions rolled back.
func (m *Store) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}

func (m *Store) fail(method string) error {
	if m.Err != nil {
		return m.Err
	}
	return m.Fail[method]
}

// EnsureSchema is a no-op.
func (m *Store) EnsureSchema(_ context.Context) error {
	return m.fail("EnsureSchema")
}

// Close is a no-op.
func (m *Store) Close() error {
	return nil
}

// Transaction methods.

// CreateTransaction stores a copy of txn.
func (m *Store) CreateTransaction(_ context.Context, txn *entities.Transaction) error {
	if err := m.fail("CreateTransaction"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[txn.ID]; ok {
		return fmt.Errorf("duplicate transaction id %s", txn.ID)
	}
	m.transactions[txn.ID] = copyTransaction(txn)
	return nil
}

// GetTransaction returns a copy of the transaction, or nil.
func (m *Store) GetTransaction(_ context.Context, id string) (*entities.Transaction, error) {
	if err := m.fail("GetTransaction"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	return copyTransaction(txn), nil
}

// LockTransaction records the lock and returns GetTransaction.
func (m *Store) LockTransaction(ctx context.Context, id string) (*entities.Transaction, error) {
	if err := m.fail("LockTransaction"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.locks = append(m.locks, "transaction:"+id)
	m.mu.Unlock()
	return m.GetTransaction(ctx, id)
}

// LockTarget records the lock. InTx already serializes transactions.
func (m *Store) LockTarget(_ context.Context, targetType, targetID string) error {
	if err := m.fail("LockTarget"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = append(m.locks, "target:"+targetType+":"+targetID)
	return nil
}

// Locks returns the locks taken so far, in order.
func (m *Store) Locks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.locks)
}

// UpdateTransaction replaces the stored transaction.
func (m *Store) UpdateTransaction(_ context.Context, txn *entities.Transaction) error {
	if err := m.fail("UpdateTransaction"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[txn.ID]; !ok {
		return fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, txn.ID)
	}
	m.transactions[txn.ID] = copyTransaction(txn)
	return nil
}

// DeleteTransaction removes a transaction without drafts.
func (m *Store) DeleteTransaction(_ context.Context, id string) error {
	if err := m.fail("DeleteTransaction"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.drafts {
		if d.TransactionID == id {
			return fmt.Errorf("transaction %s still has drafts", id)
		}
	}
	delete(m.transactions, id)
	return nil
}

// ListTransactions lists transactions newest first.
func (m *Store) ListTransactions(_ context.Context, filter ports.TransactionFilter) ([]*entities.Transaction, error) {
	if err := m.fail("ListTransactions"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*entities.Transaction, 0, len(m.transactions))
	for _, txn := range m.transactions {
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && txn.CreatedBy != filter.CreatedBy {
			continue
		}
		result = append(result, copyTransaction(txn))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Draft methods.

// SaveDraft appends a copy of the draft.
func (m *Store) SaveDraft(_ context.Context, d *entities.Draft) error {
	if err := m.fail("SaveDraft"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[d.TransactionID]; !ok {
		return fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, d.TransactionID)
	}
	m.drafts = append(m.drafts, copyDraft(d))
	return nil
}

// GetDraft returns a copy of the draft, or nil.
func (m *Store) GetDraft(_ context.Context, id string) (*entities.Draft, error) {
	if err := m.fail("GetDraft"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.drafts {
		if d.ID == id {
			return copyDraft(d), nil
		}
	}
	return nil, nil
}

// ListDrafts lists matching drafts by creation time, then insertion order.
func (m *Store) ListDrafts(_ context.Context, filter ports.DraftFilter) ([]*entities.Draft, error) {
	if err := m.fail("ListDrafts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*entities.Draft
	for _, d := range m.drafts {
		if filter.TransactionID != "" && d.TransactionID != filter.TransactionID {
			continue
		}
		if filter.TargetType != "" && d.TargetType != filter.TargetType {
			continue
		}
		if filter.TargetID != "" && d.TargetID != filter.TargetID {
			continue
		}
		if len(filter.Statuses) > 0 {
			txn := m.transactions[d.TransactionID]
			if txn == nil || !slices.Contains(filter.Statuses, txn.Status) {
				continue
			}
		}
		result = append(result, copyDraft(d))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CountDrafts counts the drafts of a transaction.
func (m *Store) CountDrafts(_ context.Context, transactionID string) (int, error) {
	if err := m.fail("CountDrafts"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, d := range m.drafts {
		if d.TransactionID == transactionID {
			n++
		}
	}
	return n, nil
}

// LinkDraftTarget sets the target id of a draft.
func (m *Store) LinkDraftTarget(_ context.Context, draftID, targetID string) error {
	if err := m.fail("LinkDraftTarget"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.drafts {
		if d.ID == draftID {
			d.TargetID = targetID
			d.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("draft %s not found", draftID)
}

// Record methods.

// Find returns the record, or nil.
func (m *Store) Find(_ context.Context, rt *entities.RecordType, id string) (*entities.Record, error) {
	if err := m.fail("Find"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.records[rt.Table][id]
	if !ok {
		return nil, nil
	}
	return entities.LoadRecord(rt.Name, id, row), nil
}

// FindBy returns the first record, by id, whose columns match.
func (m *Store) FindBy(ctx context.Context, rt *entities.RecordType, columns map[string]any) (*entities.Record, error) {
	if err := m.fail("FindBy"); err != nil {
		return nil, err
	}
	recs, err := m.ListBy(ctx, rt, columns)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// ListBy returns every record whose columns match, ordered by id.
func (m *Store) ListBy(_ context.Context, rt *entities.RecordType, columns map[string]any) ([]*entities.Record, error) {
	if err := m.fail("ListBy"); err != nil {
		return nil, err
	}
	if err := checkColumns(rt, columns); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.records[rt.Table]
	ids := slices.Sorted(maps.Keys(rows))
	var result []*entities.Record
	for _, id := range ids {
		if matches(rows[id], columns) {
			result = append(result, entities.LoadRecord(rt.Name, id, rows[id]))
		}
	}
	return result, nil
}

// Insert stores a new row under a sequential, zero padded id.
func (m *Store) Insert(_ context.Context, rt *entities.RecordType, columns map[string]any) (string, error) {
	if err := m.fail("Insert"); err != nil {
		return "", err
	}
	if m.FailInsert != nil {
		if err := m.FailInsert(rt, columns); err != nil {
			return "", err
		}
	}
	if err := checkColumns(rt, columns); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("%06d", m.nextID)
	row := maps.Clone(columns)
	if row == nil {
		row = make(map[string]any)
	}
	if rt.Timestamps {
		now := time.Now().UTC()
		row["created_at"] = now
		row["updated_at"] = now
	}
	if m.records[rt.Table] == nil {
		m.records[rt.Table] = make(map[string]map[string]any)
	}
	m.records[rt.Table][id] = row
	return id, nil
}

// Seed inserts a row outside any draft, for test setup, and returns the
// loaded record.
func (m *Store) Seed(rt *entities.RecordType, columns map[string]any) *entities.Record {
	id, err := m.Insert(context.Background(), rt, columns)
	if err != nil {
		panic(err)
	}
	rec, _ := m.Find(context.Background(), rt, id)
	return rec
}

// Update overwrites the given columns.
func (m *Store) Update(_ context.Context, rt *entities.RecordType, id string, columns map[string]any) error {
	if err := m.fail("Update"); err != nil {
		return err
	}
	if err := checkColumns(rt, columns); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.records[rt.Table][id]
	if !ok {
		return fmt.Errorf("%w: %s:%s", entities.ErrRecordNotFound, rt.Name, id)
	}
	maps.Copy(row, columns)
	if rt.Timestamps {
		row["updated_at"] = time.Now().UTC()
	}
	return nil
}

// Delete removes a row.
func (m *Store) Delete(_ context.Context, rt *entities.RecordType, id string) (bool, error) {
	if err := m.fail("Delete"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rt.Table][id]; !ok {
		return false, nil
	}
	delete(m.records[rt.Table], id)
	return true, nil
}

// Count returns the number of rows of a type.
func (m *Store) Count(rt *entities.RecordType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[rt.Table])
}

// TransactionCount returns the number of stored transactions.
func (m *Store) TransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// DraftCount returns the number of stored drafts.
func (m *Store) DraftCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.drafts)
}

func checkColumns(rt *entities.RecordType, columns map[string]any) error {
	known := rt.Columns()
	for name := range columns {
		if !slices.Contains(known, name) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, rt.Table, name)
		}
	}
	return nil
}

func matches(row, columns map[string]any) bool {
	for name, want := range columns {
		got := row[name]
		if gt, ok := got.(time.Time); ok {
			wt, ok := want.(time.Time)
			if !ok || !gt.Equal(wt) {
				return false
			}
			continue
		}
		if entities.IDString(got) != entities.IDString(want) && !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func copyTransaction(txn *entities.Transaction) *entities.Transaction {
	c := *txn
	c.ExtraData = maps.Clone(txn.ExtraData)
	return &c
}

func copyDraft(d *entities.Draft) *entities.Draft {
	c := *d
	c.Changes = maps.Clone(d.Changes)
	if d.Options != nil {
		opts := *d.Options
		c.Options = &opts
	}
	return &c
}
