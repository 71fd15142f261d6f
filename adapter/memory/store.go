// Package memory provides an in-memory DocumentStore used by tests and
// ephemeral environments. It mirrors the semantics the mongo adapter gets
// from the server: optimistic read-set validation at commit, server-side
// increments, and full-snapshot watch delivery.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/treelistings/publication-service/repository"
)

var _ repository.DocumentStore = (*Store)(nil)

type versionedDoc struct {
	doc     repository.Document
	version uint64
}

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]versionedDoc
	watchers    map[string][]*watcher
	failCommits int
}

func NewStore() *Store {
	return &Store{
		collections: make(map[string]map[string]versionedDoc),
		watchers:    make(map[string][]*watcher),
	}
}

// FailCommits makes the next n transaction commits fail with ErrConflict
// after discarding their writes, as if a concurrent commit had invalidated
// the read set. Test hook.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

func (s *Store) AllocateID() string {
	return uuid.NewString()
}

func (s *Store) Get(ctx context.Context, collection, id string) (repository.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	vd, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, repository.ErrNotFound)
	}
	return cloneDoc(vd.doc), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields repository.Document, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.applySet(collection, id, fields, merge)
	deliveries := s.snapshotWatchers(map[string]bool{collection: true})
	s.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filter repository.Filter) (repository.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(collection, filter), nil
}

// Watch registers the listener and delivers the initial snapshot before
// returning. Callbacks run on the committing goroutine and must return
// promptly without calling back into the store.
func (s *Store) Watch(ctx context.Context, collection string, filter repository.Filter, onChange func(repository.Snapshot)) (repository.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &watcher{filter: filter, onChange: onChange}

	s.mu.Lock()
	s.watchers[collection] = append(s.watchers[collection], w)
	initial := s.queryLocked(collection, filter)
	w.mu.Lock()
	s.mu.Unlock()

	w.onChange(initial)
	w.mu.Unlock()

	cancel := func() {
		// Taking w.mu first means an in-flight delivery finishes before
		// Cancel returns, and the closed flag stops everything after it.
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		s.mu.Lock()
		list := s.watchers[collection]
		for i, cur := range list {
			if cur == w {
				s.watchers[collection] = append(list[:i], list[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
	return cancel, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s, reads: make(map[docKey]uint64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()

	if s.failCommits > 0 {
		s.failCommits--
		s.mu.Unlock()
		return fmt.Errorf("commit aborted: %w", repository.ErrConflict)
	}

	for key, readVersion := range tx.reads {
		if s.versionLocked(key) != readVersion {
			s.mu.Unlock()
			return fmt.Errorf("%s/%s changed since it was read: %w", key.collection, key.id, repository.ErrConflict)
		}
	}

	touched := make(map[string]bool, len(tx.writes))
	for _, op := range tx.writes {
		switch op.kind {
		case opSet:
			s.applySet(op.collection, op.id, op.fields, op.merge)
		case opIncrement:
			s.applyIncrement(op.collection, op.id, op.field, op.delta)
		}
		touched[op.collection] = true
	}

	deliveries := s.snapshotWatchers(touched)
	s.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (s *Store) versionLocked(key docKey) uint64 {
	return s.collections[key.collection][key.id].version
}

func (s *Store) applySet(collection, id string, fields repository.Document, merge bool) {
	coll := s.collections[collection]
	if coll == nil {
		coll = make(map[string]versionedDoc)
		s.collections[collection] = coll
	}
	vd := coll[id]
	if merge && vd.doc != nil {
		merged := cloneDoc(vd.doc)
		for k, v := range fields {
			merged[k] = cloneValue(v)
		}
		coll[id] = versionedDoc{doc: merged, version: vd.version + 1}
		return
	}
	coll[id] = versionedDoc{doc: cloneDoc(fields), version: vd.version + 1}
}

func (s *Store) applyIncrement(collection, id, field string, delta int64) {
	coll := s.collections[collection]
	if coll == nil {
		coll = make(map[string]versionedDoc)
		s.collections[collection] = coll
	}
	vd := coll[id]
	doc := cloneDoc(vd.doc)
	if doc == nil {
		doc = repository.Document{}
	}
	doc[field] = asInt64(doc[field]) + delta
	coll[id] = versionedDoc{doc: doc, version: vd.version + 1}
}

func (s *Store) queryLocked(collection string, filter repository.Filter) repository.Snapshot {
	out := make(repository.Snapshot)
	for id, vd := range s.collections[collection] {
		if matches(vd.doc, filter) {
			out[id] = cloneDoc(vd.doc)
		}
	}
	return out
}

type delivery struct {
	w    *watcher
	snap repository.Snapshot
}

// snapshotWatchers locks every affected watcher while the store lock is
// still held, so per-watcher snapshot order follows commit order.
func (s *Store) snapshotWatchers(touched map[string]bool) []delivery {
	var out []delivery
	for collection := range touched {
		for _, w := range s.watchers[collection] {
			w.mu.Lock()
			out = append(out, delivery{w: w, snap: s.queryLocked(collection, w.filter)})
		}
	}
	return out
}

func deliver(deliveries []delivery) {
	for _, d := range deliveries {
		if !d.w.closed {
			d.w.onChange(d.snap)
		}
		d.w.mu.Unlock()
	}
}

type watcher struct {
	mu       sync.Mutex
	closed   bool
	filter   repository.Filter
	onChange func(repository.Snapshot)
}

type docKey struct {
	collection string
	id         string
}

const (
	opSet = iota
	opIncrement
)

type writeOp struct {
	kind       int
	collection string
	id         string
	field      string
	fields     repository.Document
	merge      bool
	delta      int64
}

type memTx struct {
	store  *Store
	reads  map[docKey]uint64
	writes []writeOp
}

func (tx *memTx) Get(ctx context.Context, collection, id string) (repository.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tx.writes) > 0 {
		return nil, fmt.Errorf("transaction reads must precede writes (read of %s/%s after %d writes)", collection, id, len(tx.writes))
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	key := docKey{collection: collection, id: id}
	vd, ok := tx.store.collections[collection][id]
	// An absent document is recorded at version zero: creating it
	// concurrently bumps the version and conflicts with this read.
	tx.reads[key] = vd.version
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, repository.ErrNotFound)
	}
	return cloneDoc(vd.doc), nil
}

func (tx *memTx) Set(ctx context.Context, collection, id string, fields repository.Document, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.writes = append(tx.writes, writeOp{kind: opSet, collection: collection, id: id, fields: cloneDoc(fields), merge: merge})
	return nil
}

func (tx *memTx) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.writes = append(tx.writes, writeOp{kind: opIncrement, collection: collection, id: id, field: field, delta: delta})
	return nil
}

func matches(doc repository.Document, filter repository.Filter) bool {
	for field, want := range filter.Equals {
		if !reflect.DeepEqual(doc[field], want) {
			return false
		}
	}
	for field, unwanted := range filter.NotEquals {
		if reflect.DeepEqual(doc[field], unwanted) {
			return false
		}
	}
	return true
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func cloneDoc(doc repository.Document) repository.Document {
	if doc == nil {
		return nil
	}
	out := make(repository.Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case repository.Document:
		return cloneDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
