// Package relationaldb builds the SQL the record stores run against the
// tables of registered record types.
package relationaldb

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

// ErrUnknownColumn is returned when a query names a column the record type
// does not declare.
var ErrUnknownColumn = errors.New("unknown column")

// TimeLayout is fixed width so stored text timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in TimeLayout, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Dialect holds what differs between the supported databases.
type Dialect struct {
	Name string

	// Placeholder renders the nth (1-based) bind parameter.
	Placeholder func(n int) string
	// NullSafeEqual compares two values treating NULLs as equal.
	NullSafeEqual string
	// ColumnTypes maps field kinds to column types.
	ColumnTypes map[entities.FieldKind]string
	// KeyType is used for ids, foreign keys and type columns.
	KeyType string
	// TimestampType is used for created_at and updated_at.
	TimestampType string
	// Bind converts a canonical value to a driver argument. nil leaves
	// values unchanged.
	Bind func(v any) any
}

// SQLite stores times and JSON as text.
var SQLite = Dialect{
	Name:          "sqlite",
	Placeholder:   func(int) string { return "?" },
	NullSafeEqual: "IS",
	ColumnTypes: map[entities.FieldKind]string{
		entities.KindString: "TEXT",
		entities.KindInt:    "INTEGER",
		entities.KindFloat:  "REAL",
		entities.KindBool:   "INTEGER",
		entities.KindTime:   "TEXT",
		entities.KindJSON:   "TEXT",
	},
	KeyType:       "TEXT",
	TimestampType: "TEXT",
	Bind: func(v any) any {
		if t, ok := v.(time.Time); ok {
			return FormatTime(t)
		}
		return v
	},
}

// Postgres uses native timestamp and jsonb columns.
var Postgres = Dialect{
	Name:          "postgres",
	Placeholder:   func(n int) string { return "$" + strconv.Itoa(n) },
	NullSafeEqual: "IS NOT DISTINCT FROM",
	ColumnTypes: map[entities.FieldKind]string{
		entities.KindString: "TEXT",
		entities.KindInt:    "BIGINT",
		entities.KindFloat:  "DOUBLE PRECISION",
		entities.KindBool:   "BOOLEAN",
		entities.KindTime:   "TIMESTAMPTZ",
		entities.KindJSON:   "JSONB",
	},
	KeyType:       "TEXT",
	TimestampType: "TIMESTAMPTZ",
}

// Query is a statement and its arguments.
type Query struct {
	SQL  string
	Args []any
}

// args accumulates bind parameters and renders their placeholders.
type args struct {
	d    Dialect
	vals []any
}

func (a *args) add(v any) string {
	if a.d.Bind != nil {
		v = a.d.Bind(v)
	}
	a.vals = append(a.vals, v)
	return a.d.Placeholder(len(a.vals))
}

func quote(name string) string {
	return `"` + name + `"`
}

// SelectColumns lists the columns read back for rt, in scan order.
func SelectColumns(rt *entities.RecordType) []string {
	cols := append([]string{"id"}, rt.Columns()...)
	if rt.Timestamps {
		cols = append(cols, "created_at", "updated_at")
	}
	return cols
}

func selectList(rt *entities.RecordType) string {
	cols := SelectColumns(rt)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

// CheckColumns rejects names rt does not declare.
func CheckColumns(rt *entities.RecordType, columns map[string]any) error {
	known := rt.Columns()
	for name := range columns {
		if !slices.Contains(known, name) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, rt.Table, name)
		}
	}
	return nil
}

func sortedNames(columns map[string]any) []string {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EncodeValue converts a column value to its canonical stored form. JSON
// fields are encoded to text.
func EncodeValue(rt *entities.RecordType, column string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	f, ok := rt.Field(column)
	if !ok {
		return entities.IDString(v), nil
	}
	c, err := f.Kind.Coerce(v)
	if err != nil {
		return nil, err
	}
	if f.Kind == entities.KindJSON {
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encoding %s.%s: %w", rt.Table, column, err)
		}
		return string(data), nil
	}
	return c, nil
}

// CreateTable returns the statements that create the table of rt and index
// its foreign keys.
func (d Dialect) CreateTable(rt *entities.RecordType) []string {
	defs := []string{quote("id") + " " + d.KeyType + " PRIMARY KEY"}
	for _, f := range rt.Fields {
		defs = append(defs, quote(f.Name)+" "+d.ColumnTypes[f.Kind])
	}
	for _, a := range rt.BelongsTo {
		defs = append(defs, quote(a.ForeignKey)+" "+d.KeyType)
		if a.Polymorphic {
			defs = append(defs, quote(a.TypeColumn)+" "+d.KeyType)
		}
	}
	if rt.Timestamps {
		defs = append(defs,
			quote("created_at")+" "+d.TimestampType,
			quote("updated_at")+" "+d.TimestampType,
		)
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(rt.Table), strings.Join(defs, ", "))}
	for _, a := range rt.BelongsTo {
		cols := quote(a.ForeignKey)
		if a.Polymorphic {
			cols = quote(a.TypeColumn) + ", " + cols
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote("idx_"+rt.Table+"_"+a.ForeignKey), quote(rt.Table), cols))
	}
	return stmts
}

// Select loads the rows of rt whose columns equal where, ordered by id. A
// positive limit bounds the result.
func (d Dialect) Select(rt *entities.RecordType, where map[string]any, limit int) (Query, error) {
	if err := CheckColumns(rt, where); err != nil {
		return Query{}, err
	}
	a := &args{d: d}
	conds := make([]string, 0, len(where))
	for _, name := range sortedNames(where) {
		v, err := EncodeValue(rt, name, where[name])
		if err != nil {
			return Query{}, err
		}
		conds = append(conds, quote(name)+" "+d.NullSafeEqual+" "+a.add(v))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", selectList(rt), quote(rt.Table))
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY " + quote("id"))
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	return Query{SQL: b.String(), Args: a.vals}, nil
}

// FindByID loads the row of rt with the given id.
func (d Dialect) FindByID(rt *entities.RecordType, id string) Query {
	a := &args{d: d}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", selectList(rt), quote(rt.Table), quote("id"), a.add(id))
	return Query{SQL: sql, Args: a.vals}
}

// Insert writes a new row of rt under id. now fills the timestamps.
func (d Dialect) Insert(rt *entities.RecordType, id string, columns map[string]any, now time.Time) (Query, error) {
	if err := CheckColumns(rt, columns); err != nil {
		return Query{}, err
	}
	a := &args{d: d}
	names := []string{quote("id")}
	values := []string{a.add(id)}
	for _, name := range sortedNames(columns) {
		v, err := EncodeValue(rt, name, columns[name])
		if err != nil {
			return Query{}, err
		}
		names = append(names, quote(name))
		values = append(values, a.add(v))
	}
	if rt.Timestamps {
		names = append(names, quote("created_at"), quote("updated_at"))
		values = append(values, a.add(now.UTC()), a.add(now.UTC()))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(rt.Table), strings.Join(names, ", "), strings.Join(values, ", "))
	return Query{SQL: sql, Args: a.vals}, nil
}

// Update writes columns to the row of rt with the given id. With nothing to
// write the statement still matches the row so callers can detect a
// missing one.
func (d Dialect) Update(rt *entities.RecordType, id string, columns map[string]any, now time.Time) (Query, error) {
	if err := CheckColumns(rt, columns); err != nil {
		return Query{}, err
	}
	a := &args{d: d}
	sets := make([]string, 0, len(columns)+1)
	for _, name := range sortedNames(columns) {
		v, err := EncodeValue(rt, name, columns[name])
		if err != nil {
			return Query{}, err
		}
		sets = append(sets, quote(name)+" = "+a.add(v))
	}
	if rt.Timestamps {
		sets = append(sets, quote("updated_at")+" = "+a.add(now.UTC()))
	}
	if len(sets) == 0 {
		sets = append(sets, quote("id")+" = "+quote("id"))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quote(rt.Table), strings.Join(sets, ", "), quote("id"), a.add(id))
	return Query{SQL: sql, Args: a.vals}, nil
}

// Delete removes the row of rt with the given id.
func (d Dialect) Delete(rt *entities.RecordType, id string) Query {
	a := &args{d: d}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", quote(rt.Table), quote("id"), a.add(id))
	return Query{SQL: sql, Args: a.vals}
}

// DecodeRecord builds a loaded record from values scanned in SelectColumns
// order. Field values are coerced to their canonical form.
func DecodeRecord(rt *entities.RecordType, raw []any) (*entities.Record, error) {
	cols := SelectColumns(rt)
	if len(raw) != len(cols) {
		return nil, fmt.Errorf("decoding %s: got %d values for %d columns", rt.Table, len(raw), len(cols))
	}

	for i, v := range raw {
		if b, ok := v.([]byte); ok {
			raw[i] = string(b)
		}
	}

	values := make(map[string]any, len(cols)-1)
	for i, name := range cols[1:] {
		v := raw[i+1]
		if v == nil {
			values[name] = nil
			continue
		}

		kind, isField := kindOf(rt, name)
		if !isField {
			values[name] = entities.IDString(v)
			continue
		}
		c, err := kind.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("decoding %s.%s: %w", rt.Table, name, err)
		}
		values[name] = c
	}
	return entities.LoadRecord(rt.Name, entities.IDString(raw[0]), values), nil
}

func kindOf(rt *entities.RecordType, column string) (entities.FieldKind, bool) {
	if column == "created_at" || column == "updated_at" {
		return entities.KindTime, true
	}
	f, ok := rt.Field(column)
	return f.Kind, ok
}
