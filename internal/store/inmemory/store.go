package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store"
)

// Store is an in-memory implementation of store.Store.
// Each session works on a private copy of the committed data; Commit
// publishes the copy. Data is lost when the process exits.
type Store struct {
	mu        sync.RWMutex
	committed *data
}

// NewStore creates a new empty in-memory ledger store.
func NewStore() *Store {
	return &Store{committed: newData()}
}

// Begin implements the store.Store interface.
func (s *Store) Begin(ctx context.Context) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &session{store: s, work: s.committed.clone()}, nil
}

// Close implements the store.Store interface.
func (s *Store) Close() error {
	return nil
}

type data struct {
	accounts   map[int64]ledger.Account
	categories map[int64]ledger.Category
	records    map[int64]ledger.Record
	splits     map[int64]ledger.Split

	shadowAccounts     map[string]shadow.Account
	shadowGroups       map[string]shadow.Group
	shadowCategories   map[string]shadow.Category
	shadowTransactions map[string]shadow.Transaction

	lastID int64
}

func newData() *data {
	return &data{
		accounts:           make(map[int64]ledger.Account),
		categories:         make(map[int64]ledger.Category),
		records:            make(map[int64]ledger.Record),
		splits:             make(map[int64]ledger.Split),
		shadowAccounts:     make(map[string]shadow.Account),
		shadowGroups:       make(map[string]shadow.Group),
		shadowCategories:   make(map[string]shadow.Category),
		shadowTransactions: make(map[string]shadow.Transaction),
	}
}

func (d *data) clone() *data {
	return &data{
		accounts:           cloneMap(d.accounts),
		categories:         cloneMap(d.categories),
		records:            cloneMap(d.records),
		splits:             cloneMap(d.splits),
		shadowAccounts:     cloneMap(d.shadowAccounts),
		shadowGroups:       cloneMap(d.shadowGroups),
		shadowCategories:   cloneMap(d.shadowCategories),
		shadowTransactions: cloneMap(d.shadowTransactions),
		lastID:             d.lastID,
	}
}

func (d *data) nextID() int64 {
	d.lastID++
	return d.lastID
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sortedValues returns copies of the map values ordered by key.
func sortedValues[K int64 | string, V any](m map[K]V, keep func(*V) bool) []*V {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	result := make([]*V, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		if keep != nil && !keep(&v) {
			continue
		}
		result = append(result, &v)
	}
	return result
}

// shadowTable adapts one shadow map of the session's working data to store.ShadowRepository.
type shadowTable[S any] struct {
	sess *session
	rows func(d *data) map[string]S
	key  func(row *S) string
}

func (t shadowTable[S]) FindByExternalIDs(ctx context.Context, ids []string) (map[string]*S, error) {
	work, err := t.sess.data()
	if err != nil {
		return nil, err
	}
	rows := t.rows(work)
	result := make(map[string]*S, len(ids))
	for _, id := range ids {
		if row, ok := rows[id]; ok {
			rowCopy := row
			result[id] = &rowCopy
		}
	}
	return result, nil
}

func (t shadowTable[S]) List(ctx context.Context) ([]*S, error) {
	work, err := t.sess.data()
	if err != nil {
		return nil, err
	}
	return sortedValues(t.rows(work), nil), nil
}

func (t shadowTable[S]) Save(ctx context.Context, rows ...*S) error {
	work, err := t.sess.data()
	if err != nil {
		return err
	}
	table := t.rows(work)
	for _, row := range rows {
		key := t.key(row)
		if key == "" {
			return fmt.Errorf("external ID is required")
		}
		table[key] = *row
	}
	return nil
}

// Ensure Store implements store.Store interface.
var _ store.Store = (*Store)(nil)
