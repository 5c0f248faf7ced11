// Package directory is the registry of proxied resources. Records live in the
// shared embedded database under the "resource:" prefix.
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ai402/gateway/internal/resource"
)

// ErrNotFound reports that no resource exists under the requested ID.
var ErrNotFound = errors.New("resource not found")

const keyPrefix = "resource:"

// Directory stores and looks up resource records.
type Directory struct {
	db     *badger.DB
	logger *zap.Logger

	// statsMu serializes in-process stats folding so concurrent requests do
	// not burn conflict retries against each other.
	statsMu sync.Mutex
}

// New returns a Directory backed by db.
func New(db *badger.DB, logger *zap.Logger) *Directory {
	return &Directory{db: db, logger: logger}
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

// Put validates and stores a resource, overwriting any existing record with
// the same ID.
func (d *Directory) Put(res *resource.Resource) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("invalid resource %q: %w", res.ID, err)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal resource %q: %w", res.ID, err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(res.ID), raw)
	})
}

// Find loads the resource with the given ID.
func (d *Directory) Find(id string) (*resource.Resource, error) {
	var res resource.Resource
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// List returns all registered resources ordered by ID.
func (d *Directory) List() ([]*resource.Resource, error) {
	var out []*resource.Resource
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var res resource.Resource
			if err := json.Unmarshal(raw, &res); err != nil {
				return fmt.Errorf("decode resource %s: %w", it.Item().Key(), err)
			}
			out = append(out, &res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ApplyStats folds one usage delta into a resource's aggregate counters. The
// read-modify-write retries on transaction conflict so concurrent requests
// never lose an increment.
func (d *Directory) ApplyStats(id string, delta resource.StatsDelta) error {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	const maxRetries = 5
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = d.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var res resource.Resource
			if err := json.Unmarshal(raw, &res); err != nil {
				return err
			}

			res.Stats.TotalUses += delta.Uses
			earnings, err := decimal.NewFromString(res.Stats.TotalEarnings)
			if err != nil {
				earnings = decimal.Zero
			}
			res.Stats.TotalEarnings = earnings.Add(delta.Earnings).String()
			res.Stats.TotalInputTokens += delta.InputTokens
			res.Stats.TotalOutputTokens += delta.OutputTokens
			res.Stats.TotalTokens += delta.InputTokens + delta.OutputTokens
			if !delta.UsedAt.IsZero() {
				usedAt := delta.UsedAt
				res.Stats.LastUsed = &usedAt
			}

			updated, err := json.Marshal(&res)
			if err != nil {
				return err
			}
			return txn.Set(key(id), updated)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Seed loads resource records from a JSON file and upserts each one. Existing
// stats are preserved when a seeded resource is already registered.
func (d *Directory) Seed(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var seeds []*resource.Resource
	if err := json.Unmarshal(raw, &seeds); err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}

	count := 0
	for _, res := range seeds {
		if existing, err := d.Find(res.ID); err == nil {
			res.Stats = existing.Stats
		}
		if err := d.Put(res); err != nil {
			return count, err
		}
		d.logger.Info("seeded resource",
			zap.String("id", res.ID),
			zap.String("kind", string(res.Kind)))
		count++
	}
	return count, nil
}
