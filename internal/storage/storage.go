// Package storage provides the persistent model registry of the credit engine.
// It uses BoltDB to keep every trained model blob next to the record of the
// run that produced it, tracks which version is active, and supports rolling
// back to the previous version.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"credit-engine/internal/fairness"
	"credit-engine/internal/training"

	"go.etcd.io/bbolt"
)

const (
	modelsBucket = "models" // version -> compressed model snapshot
	runsBucket   = "runs"   // version -> RunRecord JSON
	metaBucket   = "meta"   // registry bookkeeping

	activeKey = "active"

	// FileName is the database file created inside the data directory.
	FileName = "credit-models.db"
)

var (
	// ErrNotFound is returned for unknown model versions and datasets.
	ErrNotFound = errors.New("storage: not found")
	// ErrNoActive is returned when no version has been activated yet.
	ErrNoActive = errors.New("storage: no active model version")
	// ErrNoPrevious is returned by Rollback when the active version is the oldest.
	ErrNoPrevious = errors.New("storage: no previous version available for rollback")
)

// RunRecord describes one registered model version.
type RunRecord struct {
	Version     string                     `json:"version"`
	Sequence    uint64                     `json:"sequence"`
	CreatedAt   time.Time                  `json:"created_at"`
	Performance training.PerformanceReport `json:"performance"`
	Bias        fairness.BiasReport        `json:"bias"`
	Active      bool                       `json:"active"`
}

// Store is a BoltDB-backed model registry.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the registry database inside dataPath.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, FileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{modelsBucket, runsBucket, metaBucket, datasetsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveModel stores a model blob under run.Version together with its run
// record. The run is registered inactive; the sequence and creation time are
// assigned here.
func (s *Store) SaveModel(run RunRecord, blob []byte) (RunRecord, error) {
	if run.Version == "" {
		return RunRecord{}, errors.New("storage: model version is empty")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		if runs.Get([]byte(run.Version)) != nil {
			return fmt.Errorf("storage: model version %s already exists", run.Version)
		}

		seq, err := runs.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		run.Sequence = seq
		run.CreatedAt = time.Now().UTC()
		run.Active = false

		if err := tx.Bucket([]byte(modelsBucket)).Put([]byte(run.Version), blob); err != nil {
			return fmt.Errorf("put model: %w", err)
		}
		return putRun(runs, run)
	})
	if err != nil {
		return RunRecord{}, err
	}
	return run, nil
}

// LoadModel returns the blob stored for version.
func (s *Store) LoadModel(version string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(modelsBucket)).Get([]byte(version))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, version)
		}
		// bbolt values are only valid inside the transaction.
		blob = append([]byte(nil), v...)
		return nil
	})
	return blob, err
}

// ListRuns returns every registered run, newest first.
func (s *Store) ListRuns() ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		runs, err = allRuns(tx)
		return err
	})
	return runs, err
}

// Activate marks version as the active model.
func (s *Store) Activate(version string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return activate(tx, version)
	})
}

// Active returns the run record of the active model.
func (s *Store) Active() (RunRecord, error) {
	var run RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		version := tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey))
		if version == nil {
			return ErrNoActive
		}
		var err error
		run, err = getRun(tx.Bucket([]byte(runsBucket)), string(version))
		return err
	})
	return run, err
}

// Rollback activates the run registered just before the active one and
// returns it.
func (s *Store) Rollback() (RunRecord, error) {
	var previous RunRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs, err := allRuns(tx)
		if err != nil {
			return err
		}

		current := -1
		for i, r := range runs {
			if r.Active {
				current = i
				break
			}
		}
		if current == -1 {
			return ErrNoActive
		}
		// runs are newest first, so the previous version follows the active one.
		if current+1 >= len(runs) {
			return ErrNoPrevious
		}

		previous = runs[current+1]
		previous.Active = true
		return activate(tx, previous.Version)
	})
	if err != nil {
		return RunRecord{}, err
	}
	return previous, nil
}

func activate(tx *bbolt.Tx, version string) error {
	runs := tx.Bucket([]byte(runsBucket))
	meta := tx.Bucket([]byte(metaBucket))

	next, err := getRun(runs, version)
	if err != nil {
		return err
	}

	if prev := meta.Get([]byte(activeKey)); prev != nil && string(prev) != version {
		old, err := getRun(runs, string(prev))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil {
			old.Active = false
			if err := putRun(runs, old); err != nil {
				return err
			}
		}
	}

	next.Active = true
	if err := putRun(runs, next); err != nil {
		return err
	}
	return meta.Put([]byte(activeKey), []byte(version))
}

func allRuns(tx *bbolt.Tx) ([]RunRecord, error) {
	var runs []RunRecord
	err := tx.Bucket([]byte(runsBucket)).ForEach(func(_, v []byte) error {
		var r RunRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("unmarshal run: %w", err)
		}
		runs = append(runs, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Sequence > runs[j].Sequence
	})
	return runs, nil
}

func getRun(b *bbolt.Bucket, version string) (RunRecord, error) {
	v := b.Get([]byte(version))
	if v == nil {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	var r RunRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal run %s: %w", version, err)
	}
	return r, nil
}

func putRun(b *bbolt.Bucket, r RunRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return b.Put([]byte(r.Version), data)
}
