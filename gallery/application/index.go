package application

import (
	"fmt"
	"sync"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

const imageTable = "image"

var indexSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		imageTable: {
			Name: imageTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Owner"},
							&memdb.StringFieldIndex{Field: "Visibility"},
							&memdb.StringFieldIndex{Field: "Filename"},
						},
					},
				},
				"owner": {
					Name:    "owner",
					Indexer: &memdb.StringFieldIndex{Field: "Owner"},
				},
			},
		},
	},
}

// indexEntry is the row stored in memdb. The key fields are flattened
// to plain strings for the field indexers.
type indexEntry struct {
	Owner      string
	Visibility string
	Filename   string
	Record     *domain.ImageRecord
}

// ImageIndex is the in-memory mapping from ImageKey to the latest known
// ImageRecord. All mutation goes through Upsert and Remove; memdb's
// single-writer transactions serialize concurrent writes so the last
// applied write wins by call order.
type ImageIndex struct {
	mu sync.RWMutex
	db *memdb.MemDB
}

// NewImageIndex returns an empty index.
func NewImageIndex() (*ImageIndex, error) {
	db, err := memdb.NewMemDB(indexSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to build index schema: %w", err)
	}
	return &ImageIndex{db: db}, nil
}

// Reset discards every entry. The synchronizer rebuilds the index from
// scratch on every (re)subscription.
func (idx *ImageIndex) Reset() {
	db, err := memdb.NewMemDB(indexSchema)
	if err != nil {
		// The schema is a package constant; if it built once it builds again.
		panic(fmt.Sprintf("failed to rebuild index schema: %v", err))
	}
	idx.mu.Lock()
	idx.db = db
	idx.mu.Unlock()
}

func (idx *ImageIndex) handle() *memdb.MemDB {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.db
}

// Upsert inserts or replaces the entry for the record's key. It reports
// whether the key is new (true) or an update to an existing entry
// (false); this distinction drives whether the synchronizer resolves
// the owner.
func (idx *ImageIndex) Upsert(rec *domain.ImageRecord) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}

	txn := idx.handle().Txn(true)
	defer txn.Abort()

	key := rec.Key()
	existing, err := txn.First(imageTable, "id", key.Owner, string(key.Visibility), key.Filename)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", key, err)
	}

	entry := &indexEntry{
		Owner:      key.Owner,
		Visibility: string(key.Visibility),
		Filename:   key.Filename,
		Record:     rec,
	}
	if err := txn.Insert(imageTable, entry); err != nil {
		return false, fmt.Errorf("failed to upsert %s: %w", key, err)
	}

	txn.Commit()
	return existing == nil, nil
}

// Remove deletes the entry for key if present. Removing an absent key
// is a no-op, not an error: deletion notifications may race with a
// manual delete. The return value reports whether an entry was removed.
func (idx *ImageIndex) Remove(key domain.ImageKey) (bool, error) {
	txn := idx.handle().Txn(true)
	defer txn.Abort()

	existing, err := txn.First(imageTable, "id", key.Owner, string(key.Visibility), key.Filename)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", key, err)
	}
	if existing == nil {
		return false, nil
	}

	if err := txn.Delete(imageTable, existing); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", key, err)
	}

	txn.Commit()
	return true, nil
}

// Get returns the latest record for key, if any.
func (idx *ImageIndex) Get(key domain.ImageKey) (*domain.ImageRecord, bool) {
	txn := idx.handle().Txn(false)
	defer txn.Abort()

	existing, err := txn.First(imageTable, "id", key.Owner, string(key.Visibility), key.Filename)
	if err != nil || existing == nil {
		return nil, false
	}
	return existing.(*indexEntry).Record, true
}

// Keys returns every key currently indexed.
func (idx *ImageIndex) Keys() []domain.ImageKey {
	var keys []domain.ImageKey
	for _, e := range idx.entries() {
		keys = append(keys, e.Record.Key())
	}
	return keys
}

// Records returns every indexed record, ordered by key.
func (idx *ImageIndex) Records() []*domain.ImageRecord {
	var recs []*domain.ImageRecord
	for _, e := range idx.entries() {
		recs = append(recs, e.Record)
	}
	return recs
}

// Len reports the number of indexed entries.
func (idx *ImageIndex) Len() int {
	return len(idx.entries())
}

func (idx *ImageIndex) entries() []*indexEntry {
	txn := idx.handle().Txn(false)
	defer txn.Abort()

	it, err := txn.Get(imageTable, "id")
	if err != nil {
		return nil
	}

	var entries []*indexEntry
	for obj := it.Next(); obj != nil; obj = it.Next() {
		entries = append(entries, obj.(*indexEntry))
	}
	return entries
}
