package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"credit-engine/internal/features"

	"go.etcd.io/bbolt"
)

const datasetsBucket = "datasets"

// StoreDataset writes labelled applicant records under name, replacing any
// dataset previously stored with that name. Records are keyed
// "name/<index>" so a dataset reads back in its original order.
func (s *Store) StoreDataset(name string, records []features.Record) error {
	if err := validateDatasetName(name); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(datasetsBucket))
		prefix := datasetPrefix(name)

		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
			if err := c.Delete(); err != nil {
				return fmt.Errorf("clear dataset %s: %w", name, err)
			}
		}

		for i, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			if err := b.Put(datasetKey(name, i), data); err != nil {
				return fmt.Errorf("put record: %w", err)
			}
		}
		return nil
	})
}

// LoadDataset returns the records stored under name.
func (s *Store) LoadDataset(name string) ([]features.Record, error) {
	if err := validateDatasetName(name); err != nil {
		return nil, err
	}
	var records []features.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(datasetsBucket)).Cursor()
		prefix := datasetPrefix(name)

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r features.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: dataset %s", ErrNotFound, name)
	}
	return records, nil
}

// validateDatasetName rejects names that could prefix another dataset's keys.
func validateDatasetName(name string) error {
	switch {
	case name == "":
		return errors.New("storage: dataset name is empty")
	case strings.Contains(name, "/"):
		return fmt.Errorf("storage: dataset name %q contains '/'", name)
	}
	return nil
}

func datasetPrefix(name string) []byte {
	return []byte(name + "/")
}

// datasetKey zero-pads the index so byte order matches record order.
func datasetKey(name string, i int) []byte {
	return []byte(fmt.Sprintf("%s/%010d", name, i))
}
