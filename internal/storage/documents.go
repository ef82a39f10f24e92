package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqljson"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tidwall/gjson"
)

// ErrDocumentNotFound is returned by Get for a missing document.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore keeps JSON documents by (collection, id). List and FindBy
// return documents ordered by id; limit <= 0 means no limit.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Put(ctx context.Context, collection, id string, doc []byte) error
	// FindBy matches documents whose top-level string field equals value.
	FindBy(ctx context.Context, collection, field, value string, limit int) ([][]byte, error)
	List(ctx context.Context, collection string, limit int) ([][]byte, error)
}

// Collection is a typed view over one document collection.
type Collection[T any] struct {
	store DocumentStore
	name  string
}

// NewCollection binds name in store to T.
func NewCollection[T any](store DocumentStore, name string) Collection[T] {
	return Collection[T]{store: store, name: name}
}

// Name returns the collection name.
func (c Collection[T]) Name() string { return c.name }

// Get returns the document and false when it does not exist.
func (c Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var doc T
	raw, err := c.store.Get(ctx, c.name, id)
	if errors.Is(err, ErrDocumentNotFound) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, false, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	return doc, true, nil
}

// Put upserts doc.
func (c Collection[T]) Put(ctx context.Context, id string, doc T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c.name, id, err)
	}
	return c.store.Put(ctx, c.name, id, raw)
}

func (c Collection[T]) FindBy(ctx context.Context, field, value string, limit int) ([]T, error) {
	raws, err := c.store.FindBy(ctx, c.name, field, value, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](c.name, raws)
}

func (c Collection[T]) List(ctx context.Context, limit int) ([]T, error) {
	raws, err := c.store.List(ctx, c.name, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](c.name, raws)
}

func decodeAll[T any](collection string, raws [][]byte) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", collection, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// MemoryDocuments is an in-process DocumentStore. Writes made inside a
// MemoryTransactor transaction stay staged until it commits.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

// NewMemoryDocuments creates an empty store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[string]map[string][]byte)}
}

type stagedDocuments struct {
	store  *MemoryDocuments
	writes map[string]map[string][]byte
}

func (s *stagedDocuments) Prepare() error { return nil }

func (s *stagedDocuments) Apply() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for collection, docs := range s.writes {
		for id, doc := range docs {
			s.store.set(collection, id, doc)
		}
	}
}

func (m *MemoryDocuments) openStage() *stagedDocuments {
	return &stagedDocuments{store: m, writes: make(map[string]map[string][]byte)}
}

func (m *MemoryDocuments) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		doc []byte
		ok  bool
	)
	Peek(ctx, m, func(s *stagedDocuments) { doc, ok = s.writes[collection][id] })
	if !ok {
		m.mu.RLock()
		doc, ok = m.docs[collection][id]
		m.mu.RUnlock()
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, collection, id)
	}
	return append([]byte(nil), doc...), nil
}

func (m *MemoryDocuments) Put(ctx context.Context, collection, id string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(doc) {
		return fmt.Errorf("put %s/%s: invalid JSON document", collection, id)
	}
	doc = append([]byte(nil), doc...)

	staged, err := Stage(ctx, m, m.openStage, func(s *stagedDocuments) error {
		coll, ok := s.writes[collection]
		if !ok {
			coll = make(map[string][]byte)
			s.writes[collection] = coll
		}
		coll[id] = doc
		return nil
	})
	if staged {
		if err != nil {
			return fmt.Errorf("put %s/%s: %w", collection, id, err)
		}
		return nil
	}

	m.mu.Lock()
	m.set(collection, id, doc)
	m.mu.Unlock()
	return nil
}

// set requires m.mu held for writing.
func (m *MemoryDocuments) set(collection, id string, doc []byte) {
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string][]byte)
		m.docs[collection] = coll
	}
	coll[id] = doc
}

func (m *MemoryDocuments) FindBy(ctx context.Context, collection, field, value string, limit int) ([][]byte, error) {
	return m.scan(ctx, collection, limit, func(doc []byte) bool {
		v := gjson.GetBytes(doc, gjson.Escape(field))
		return v.Type == gjson.String && v.Str == value
	})
}

func (m *MemoryDocuments) List(ctx context.Context, collection string, limit int) ([][]byte, error) {
	return m.scan(ctx, collection, limit, func([]byte) bool { return true })
}

func (m *MemoryDocuments) scan(ctx context.Context, collection string, limit int, match func([]byte) bool) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	coll := make(map[string][]byte, len(m.docs[collection]))
	for id, doc := range m.docs[collection] {
		coll[id] = doc
	}
	m.mu.RUnlock()
	Peek(ctx, m, func(s *stagedDocuments) {
		for id, doc := range s.writes[collection] {
			coll[id] = doc
		}
	})

	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out [][]byte
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		if doc := coll[id]; match(doc) {
			out = append(out, append([]byte(nil), doc...))
		}
	}
	return out, nil
}

const documentsTable = "read_documents"

// PostgresDocuments keeps documents in the read_documents jsonb table. SQL
// is generated with ent's dialect builders and runs on the transaction in
// ctx when there is one.
type PostgresDocuments struct {
	pool *pgxpool.Pool
}

// NewPostgresDocuments wraps pool.
func NewPostgresDocuments(pool *pgxpool.Pool) *PostgresDocuments {
	return &PostgresDocuments{pool: pool}
}

func (p *PostgresDocuments) Get(ctx context.Context, collection, id string) ([]byte, error) {
	query, args := entsql.Dialect(dialect.Postgres).
		Select("doc").
		From(entsql.Table(documentsTable)).
		Where(entsql.And(entsql.EQ("collection", collection), entsql.EQ("id", id))).
		Query()

	var doc []byte
	err := Conn(ctx, p.pool).QueryRow(ctx, query, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (p *PostgresDocuments) Put(ctx context.Context, collection, id string, doc []byte) error {
	query, args := entsql.Dialect(dialect.Postgres).
		Insert(documentsTable).
		Columns("collection", "id", "doc", "updated_at").
		Values(collection, id, string(doc), time.Now().UTC()).
		OnConflict(
			entsql.ConflictColumns("collection", "id"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if _, err := Conn(ctx, p.pool).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (p *PostgresDocuments) FindBy(ctx context.Context, collection, field, value string, limit int) ([][]byte, error) {
	return p.selectDocs(ctx, entsql.And(
		entsql.EQ("collection", collection),
		sqljson.ValueEQ("doc", value, sqljson.Path(field)),
	), limit)
}

func (p *PostgresDocuments) List(ctx context.Context, collection string, limit int) ([][]byte, error) {
	return p.selectDocs(ctx, entsql.EQ("collection", collection), limit)
}

func (p *PostgresDocuments) selectDocs(ctx context.Context, where *entsql.Predicate, limit int) ([][]byte, error) {
	sel := entsql.Dialect(dialect.Postgres).
		Select("doc").
		From(entsql.Table(documentsTable)).
		Where(where).
		OrderBy("id")
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	query, args := sel.Query()

	rows, err := Conn(ctx, p.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	return docs, nil
}
