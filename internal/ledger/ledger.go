// Package ledger is the append-only record of billable requests. Every
// settlement attempt produces one transaction, and completed payments fold
// into the owning resource's aggregate counters. Recording happens off the
// request path; a ledger failure never breaks a caller's reply.
package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ai402/gateway/internal/directory"
	"github.com/ai402/gateway/internal/resource"
)

// Status is the settlement outcome recorded on a transaction.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

const keyPrefix = "tx:"

// RequestMeta is the sanitized request context stored alongside a
// transaction. Credentials and payment proofs are never written here.
type RequestMeta struct {
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Transaction is one billable request's accounting record.
type Transaction struct {
	ID           string      `json:"id"`
	ResourceID   string      `json:"resourceId"`
	ResourceName string      `json:"resourceName,omitempty"`
	Payer        string      `json:"payer,omitempty"`
	ToAddress    string      `json:"toAddress,omitempty"`
	Amount       string      `json:"amount"`
	AtomicAmount string      `json:"atomicAmount,omitempty"`
	Currency     string      `json:"currency,omitempty"`
	Network      string      `json:"network,omitempty"`
	Operation    string      `json:"operation,omitempty"`
	Status       Status      `json:"status"`
	SettlementTx string      `json:"settlementTx,omitempty"`
	BlockNumber  int64       `json:"blockNumber,omitempty"`
	GasUsed      string      `json:"gasUsed,omitempty"`
	ErrorReason  string      `json:"errorReason,omitempty"`
	Request      RequestMeta `json:"request"`
	InputTokens  int64       `json:"inputTokens,omitempty"`
	OutputTokens int64       `json:"outputTokens,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Ledger appends transactions and maintains resource counters.
type Ledger struct {
	db     *badger.DB
	dir    *directory.Directory
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New returns a Ledger writing to db and folding stats through dir.
func New(db *badger.DB, dir *directory.Directory, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, dir: dir, logger: logger}
}

// txKey orders transactions per resource, newest last, so a reverse prefix
// scan lists recent activity first. The UUID suffix keeps same-nanosecond
// writes distinct.
func txKey(resourceID string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", keyPrefix, resourceID, createdAt.UnixNano(), id))
}

// Insert writes the transaction and, for completed ones, folds its amount
// into the resource's counters. Missing fields are defaulted in place.
func (l *Ledger) Insert(tx *Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.ResourceID == "" {
		return fmt.Errorf("transaction missing resource id")
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(txKey(tx.ResourceID, tx.CreatedAt, tx.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	if tx.Status != StatusCompleted {
		return nil
	}
	earned, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return fmt.Errorf("transaction %s: bad amount %q: %w", tx.ID, tx.Amount, err)
	}
	return l.dir.ApplyStats(tx.ResourceID, resource.StatsDelta{
		Uses:         1,
		Earnings:     earned,
		InputTokens:  tx.InputTokens,
		OutputTokens: tx.OutputTokens,
		UsedAt:       tx.CreatedAt,
	})
}

// Record inserts the transaction off the caller's request path. Failures are
// logged, never surfaced.
func (l *Ledger) Record(tx *Transaction) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.Insert(tx); err != nil {
			l.logger.Error("transaction logging failed",
				zap.String("resource", tx.ResourceID),
				zap.String("status", string(tx.Status)),
				zap.Error(err))
			return
		}
		l.logger.Info("transaction recorded",
			zap.String("id", tx.ID),
			zap.String("resource", tx.ResourceID),
			zap.String("status", string(tx.Status)),
			zap.String("amount", tx.Amount),
			zap.String("payer", tx.Payer))
	}()
}

// Flush waits for in-flight Record calls. Used on shutdown and in tests.
func (l *Ledger) Flush() {
	l.wg.Wait()
}

// ListByResource returns the resource's transactions newest first. offset
// skips records and limit caps the page; limit <= 0 means no cap.
func (l *Ledger) ListByResource(resourceID string, limit, offset int) ([]*Transaction, error) {
	var out []*Transaction
	err := l.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefix + resourceID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the last possible key under the prefix.
		seek := append(append([]byte{}, prefix...), 0xff)
		skipped := 0
		for it.Seek(seek); it.Valid(); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var tx Transaction
			if err := json.Unmarshal(raw, &tx); err != nil {
				return fmt.Errorf("decode transaction %s: %w", it.Item().Key(), err)
			}
			out = append(out, &tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
