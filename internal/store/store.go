//
// Package store is the process-local keyed storage used by the
// service. Everything is partitioned by session key: parsed upload
// records, run manifests and the computed run snapshots.
//
// Key layout in the underlying badger database:
//
//	file/<session>/<name>          parsed record json
//	run/<session>/<id>/manifest    run manifest record
//	run/<session>/<id>/result      run snapshot (write-once)
//
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a named file has not been stored for the session.
	ErrNotFound = errors.New("not found")
	// ErrRunNotFound is returned for a run id the session has never created.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunPending is returned when a run exists but its snapshot has not been written yet.
	ErrRunPending = errors.New("run result not yet computed")
	// ErrRunExists is returned when creating a run id that is already in use.
	ErrRunExists = errors.New("run already exists")
	// ErrSnapshotExists is returned on a second write of a run snapshot.
	ErrSnapshotExists = errors.New("run result already written")
)

// Config controls how the badger database is opened.
type Config struct {
	// Path is the database directory, ignored when InMemory is set.
	Path string
	// InMemory keeps everything in process memory.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// Logger receives badger's internal logging, nil silences it.
	Logger *log.Logger
}

// DefaultConfig is a durable on-disk configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig is used when no data directory is configured, and by tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts the gommon logger to badger's Logger interface.
type badgerLogger struct {
	l *log.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{})   { b.l.Errorf(format, args...) }
func (b *badgerLogger) Warningf(format string, args ...interface{}) { b.l.Warnf(format, args...) }
func (b *badgerLogger) Infof(format string, args ...interface{})    { b.l.Debugf(format, args...) }
func (b *badgerLogger) Debugf(format string, args ...interface{})   { b.l.Debugf(format, args...) }

//
// RunMeta is the small companion record persisted for every run
// so runs can be listed without loading their snapshots.
//
type RunMeta struct {
	RunID     string    `json:"run_id"`
	RunFile   string    `json:"run_file"`
	RunName   string    `json:"run_name"`
	GroupRefs []string  `json:"group_refs"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is safe for concurrent use.
type Store struct {
	db    *badger.DB
	locks *keyedMutex
}

// Open opens (creating if necessary) the database described by cfg.
func Open(cfg Config) (*Store, error) {

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, errors.Wrapf(err, "cannot create data directory %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{l: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open badger database")
	}

	return &Store{db: db, locks: newKeyedMutex()}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func fileKey(session, name string) []byte {
	return []byte(fmt.Sprintf("file/%s/%s", session, name))
}

func runPrefix(session string) []byte {
	return []byte(fmt.Sprintf("run/%s/", session))
}

func manifestKey(session, runID string) []byte {
	return []byte(fmt.Sprintf("run/%s/%s/manifest", session, runID))
}

func resultKey(session, runID string) []byte {
	return []byte(fmt.Sprintf("run/%s/%s/result", session, runID))
}

//
// Get returns the stored json for a file name,
// ErrNotFound if the session has no such file.
//
func (s *Store) Get(session, name string) ([]byte, error) {
	val, err := s.get(fileKey(session, name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "file %s", name)
	}
	return val, err
}

//
// Put writes v through as json under the file name,
// replacing any earlier upload of the same name.
//
func (s *Store) Put(session, name string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "cannot encode %s", name)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(session, name), b)
	})
}

// Files lists the stored file names for a session in key order.
func (s *Store) Files(session string) ([]string, error) {
	prefix := fileKey(session, "")
	names := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix)))
		}
		return nil
	})
	return names, err
}

//
// CreateRun persists the companion manifest for a new run.
// The run then reads as pending until SaveResult is called.
//
func (s *Store) CreateRun(session string, meta RunMeta) error {

	unlock := s.locks.Lock(session + "/" + meta.RunID)
	defer unlock()

	b, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrapf(err, "cannot encode manifest for run %s", meta.RunID)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := manifestKey(session, meta.RunID)
		if _, err := txn.Get(key); err == nil {
			return errors.Wrapf(ErrRunExists, "run %s", meta.RunID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, b)
	})
}

//
// SaveResult writes the run snapshot exactly once.
// Writers for the same run serialize on the run lock.
//
func (s *Store) SaveResult(session, runID string, result []byte) error {

	unlock := s.locks.Lock(session + "/" + runID)
	defer unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(manifestKey(session, runID)); errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrapf(ErrRunNotFound, "run %s", runID)
		} else if err != nil {
			return err
		}
		key := resultKey(session, runID)
		if _, err := txn.Get(key); err == nil {
			return errors.Wrapf(ErrSnapshotExists, "run %s", runID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, result)
	})
}

//
// DeleteRun drops a run whose snapshot was never written.
// Completed runs are immutable and cannot be deleted.
//
func (s *Store) DeleteRun(session, runID string) error {

	unlock := s.locks.Lock(session + "/" + runID)
	defer unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(resultKey(session, runID)); err == nil {
			return errors.Wrapf(ErrSnapshotExists, "run %s", runID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(manifestKey(session, runID))
	})
}

//
// LoadResult returns the run snapshot. A run with a manifest but
// no snapshot yields ErrRunPending, an unknown run ErrRunNotFound.
//
func (s *Store) LoadResult(session, runID string) ([]byte, error) {

	unlock := s.locks.Lock(session + "/" + runID)
	defer unlock()

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(manifestKey(session, runID)); errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrapf(ErrRunNotFound, "run %s", runID)
		} else if err != nil {
			return err
		}
		item, err := txn.Get(resultKey(session, runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrapf(ErrRunPending, "run %s", runID)
		} else if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Runs lists the session's run manifests, oldest first.
func (s *Store) Runs(session string) ([]RunMeta, error) {

	runs := []RunMeta{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runPrefix(session)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !strings.HasSuffix(string(item.Key()), "/manifest") {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var meta RunMeta
			if err := json.Unmarshal(val, &meta); err != nil {
				return errors.Wrapf(err, "corrupt manifest %s", item.Key())
			}
			runs = append(runs, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}
