package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// ErrTxClosed is returned when a committed or discarded transaction is used.
var ErrTxClosed = errors.New("storage: transaction closed")

// KV is the read/write surface shared by databases and transactions.
type KV interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Tx is an isolated set of writes that becomes visible atomically on Commit.
// Discard after Commit is a no-op so callers can always defer it.
type Tx interface {
	KV
	Commit() error
	Discard()
}

// Database is a generic interface for a key-value store.
// This allows the state layer to use any database backend (in-memory or persistent).
type Database interface {
	KV
	// Begin opens a write transaction. Implementations allow at most one open
	// transaction at a time; Begin blocks until the previous one finishes.
	Begin() (Tx, error)
	Close() // A way to gracefully shut down the database connection.
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu     sync.RWMutex
	txLock sync.Mutex
	data   map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

// Len reports the number of stored keys.
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

// Begin opens an overlay transaction. Writes stay in the overlay until Commit.
func (db *MemDB) Begin() (Tx, error) {
	db.txLock.Lock()
	return &memTx{
		db:      db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}, nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

type memTx struct {
	db      *MemDB
	writes  map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

func (tx *memTx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	k := string(key)
	if _, gone := tx.deletes[k]; gone {
		return nil, ErrNotFound
	}
	if value, ok := tx.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return tx.db.Get(key)
}

func (tx *memTx) Has(key []byte) (bool, error) {
	if _, err := tx.Get(key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (tx *memTx) Put(key []byte, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	k := string(key)
	delete(tx.deletes, k)
	tx.writes[k] = append([]byte(nil), value...)
	return nil
}

func (tx *memTx) Delete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	k := string(key)
	delete(tx.writes, k)
	tx.deletes[k] = struct{}{}
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.db.mu.Lock()
	for k := range tx.deletes {
		delete(tx.db.data, k)
	}
	for k, v := range tx.writes {
		tx.db.data[k] = v
	}
	tx.db.mu.Unlock()
	tx.close()
	return nil
}

func (tx *memTx) Discard() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *memTx) close() {
	tx.closed = true
	tx.writes = nil
	tx.deletes = nil
	tx.db.txLock.Unlock()
}

// --- Persistent DB (for production) ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemLevelDB opens a LevelDB instance backed by goleveldb's in-memory
// storage. Useful for exercising the LevelDB code path in tests.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Begin opens a LevelDB transaction. goleveldb blocks concurrent writers until
// the transaction is committed or discarded.
func (ldb *LevelDB) Begin() (Tx, error) {
	tr, err := ldb.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &levelTx{tr: tr}, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}

type levelTx struct {
	tr     *leveldb.Transaction
	closed bool
}

func (tx *levelTx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	value, err := tx.tr.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (tx *levelTx) Has(key []byte) (bool, error) {
	if tx.closed {
		return false, ErrTxClosed
	}
	return tx.tr.Has(key, nil)
}

func (tx *levelTx) Put(key []byte, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	return tx.tr.Put(key, value, nil)
}

func (tx *levelTx) Delete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	return tx.tr.Delete(key, nil)
}

func (tx *levelTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	if err := tx.tr.Commit(); err != nil {
		tx.Discard()
		return err
	}
	tx.closed = true
	return nil
}

func (tx *levelTx) Discard() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.tr.Discard()
}
