package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxhollow/sibilant/internal/session"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func sampleRecord(id string) *Record {
	started := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	return &Record{
		ID:        id,
		StartedAt: started,
		EndedAt:   started.Add(4 * time.Second),
		Symbols: []session.Symbol{
			{Index: 12, Symbol: "ni3"},
			{Index: 45, Symbol: "hao3"},
		},
		Text: "ni3hao3",
	}
}

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	rec := sampleRecord("sess-1")
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != rec.Text || len(got.Symbols) != 2 || got.Symbols[0].Index != 12 {
		t.Errorf("Get returned %+v, want %+v", got, rec)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Get: created_at not set")
	}

	// Mutating the returned record must not affect the stored copy.
	got.Symbols[0].Index = 99
	again, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get after mutation: %v", err)
	}
	if again.Symbols[0].Index != 12 {
		t.Error("stored record was mutated through a Get result")
	}

	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Errorf("Delete of missing record: %v", err)
	}
}

func TestMemoryStore_SaveReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Save(ctx, sampleRecord("sess-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	updated := sampleRecord("sess-1")
	updated.Text = "ni3hao3ma5"
	if err := s.Save(ctx, updated); err != nil {
		t.Fatalf("Save replacement: %v", err)
	}

	got, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "ni3hao3ma5" {
		t.Errorf("Get after replace: text = %q, want %q", got.Text, "ni3hao3ma5")
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	for i := range 3 {
		rec := sampleRecord(fmt.Sprintf("sess-%d", i))
		rec.EndedAt = rec.EndedAt.Add(time.Duration(i) * time.Minute)
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	recs, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("List returned %d records, want 3", len(recs))
	}
	if recs[0].ID != "sess-2" || recs[2].ID != "sess-0" {
		t.Errorf("List order = [%s %s %s], want newest first", recs[0].ID, recs[1].ID, recs[2].ID)
	}

	limited, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List with limit: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "sess-2" {
		t.Errorf("List(2) returned %d records starting at %s", len(limited), limited[0].ID)
	}
}

func TestMemoryStore_SaveRequiresID(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	rec := sampleRecord("")
	if err := s.Save(context.Background(), rec); err == nil {
		t.Fatal("Save with empty id: expected error")
	}
}

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS transcripts") {
		t.Errorf("Migrate executed unexpected SQL: %s", gotSQL)
	}
}

func TestPostgresStore_SaveMarshalsSymbols(t *testing.T) {
	t.Parallel()

	var gotArgs []any
	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			gotArgs = args
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*time.Time) = time.Date(2025, 3, 14, 9, 27, 0, 0, time.UTC)
				return nil
			}}
		},
	}
	s := NewPostgresStore(db)

	rec := sampleRecord("sess-1")
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Save did not populate created_at from RETURNING")
	}
	if len(gotArgs) != 5 {
		t.Fatalf("Save passed %d args, want 5", len(gotArgs))
	}
	symbolsJSON, ok := gotArgs[3].([]byte)
	if !ok {
		t.Fatalf("symbols arg is %T, want []byte", gotArgs[3])
	}
	if !strings.Contains(string(symbolsJSON), `"symbol":"ni3"`) {
		t.Errorf("symbols JSON = %s, missing first symbol", symbolsJSON)
	}
}

func TestPostgresStore_SaveEmptySymbolsAsArray(t *testing.T) {
	t.Parallel()

	var symbolsJSON []byte
	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			symbolsJSON = args[3].([]byte)
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*time.Time) = time.Now()
				return nil
			}}
		},
	}
	s := NewPostgresStore(db)

	rec := sampleRecord("sess-silent")
	rec.Symbols = nil
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if string(symbolsJSON) != "[]" {
		t.Errorf("nil symbols serialised as %s, want []", symbolsJSON)
	}
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	t.Parallel()

	s := NewPostgresStore(&mockDB{}) // default QueryRow yields ErrNoRows
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get: err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_GetRoundTrip(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			if len(args) != 1 || args[0].(string) != "sess-1" {
				t.Errorf("Get queried with args %v", args)
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "sess-1"
				*dest[1].(*time.Time) = started
				*dest[2].(*time.Time) = started.Add(4 * time.Second)
				*dest[3].(*[]byte) = []byte(`[{"index":12,"symbol":"ni3"}]`)
				*dest[4].(*string) = "ni3"
				*dest[5].(*time.Time) = started.Add(5 * time.Second)
				return nil
			}}
		},
	}
	s := NewPostgresStore(db)

	rec, err := s.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Text != "ni3" || len(rec.Symbols) != 1 || rec.Symbols[0].Symbol != "ni3" {
		t.Errorf("Get returned %+v", rec)
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	row := func(id string) []any {
		return []any{
			id, started, started.Add(4 * time.Second),
			[]byte(`[]`), "", started.Add(5 * time.Second),
		}
	}
	var gotArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotArgs = args
			if !strings.Contains(sql, "ORDER BY ended_at DESC") {
				t.Errorf("List query missing ordering: %s", sql)
			}
			return &mockRows{data: [][]any{row("sess-2"), row("sess-1")}}, nil
		},
	}
	s := NewPostgresStore(db)

	recs, err := s.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "sess-2" {
		t.Errorf("List returned %+v", recs)
	}
	if len(gotArgs) != 1 {
		t.Errorf("List with limit passed args %v, want the limit", gotArgs)
	}

	if _, err := s.List(context.Background(), 0); err != nil {
		t.Fatalf("List without limit: %v", err)
	}
	if len(gotArgs) != 0 {
		t.Errorf("List without limit passed args %v, want none", gotArgs)
	}
}

func TestPostgresStore_Delete(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			if len(args) != 1 || args[0].(string) != "sess-1" {
				t.Errorf("Delete passed args %v", args)
			}
			return pgconn.CommandTag{}, nil
		},
	}
	s := NewPostgresStore(db)
	if err := s.Delete(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !strings.Contains(gotSQL, "DELETE FROM transcripts") {
		t.Errorf("Delete executed unexpected SQL: %s", gotSQL)
	}
}
