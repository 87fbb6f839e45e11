package memory

import (
	"context"
	"sort"
	"sync"

	v1 "github.com/aevon-lab/ledgerview/internal/api/v1"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// TransactionLog is an append-only in-memory record log.
type TransactionLog struct {
	mu      sync.RWMutex
	records []*v1.Record
	nextSeq int64
	err     error
}

var _ storage.TransactionLog = (*TransactionLog)(nil)

// NewTransactionLog creates an empty log.
func NewTransactionLog() *TransactionLog {
	return &TransactionLog{}
}

// Append adds records, assigning Seq to rows that have none.
func (l *TransactionLog) Append(records ...*v1.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range records {
		c := *r
		if c.Seq == 0 {
			l.nextSeq++
			c.Seq = l.nextSeq
		} else if c.Seq > l.nextSeq {
			l.nextSeq = c.Seq
		}
		l.records = append(l.records, &c)
	}
	sort.SliceStable(l.records, func(i, j int) bool { return l.records[i].Seq < l.records[j].Seq })
}

// SetError makes every subsequent read fail with err. nil clears it.
func (l *TransactionLog) SetError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *TransactionLog) ScanRecords(ctx context.Context, q storage.ScanQuery, afterSeq int64, limit int) ([]*v1.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.check(ctx); err != nil {
		return nil, err
	}
	var out []*v1.Record
	for _, r := range l.records {
		if r.Seq <= afterSeq || !matches(r, q) {
			continue
		}
		c := *r
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *TransactionLog) CountRecords(ctx context.Context, q storage.ScanQuery) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range l.records {
		if matches(r, q) {
			n++
		}
	}
	return n, nil
}

func (l *TransactionLog) ListPage(ctx context.Context, q storage.ScanQuery, offset, limit int) ([]*v1.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.check(ctx); err != nil {
		return nil, err
	}
	var (
		out  []*v1.Record
		seen int
	)
	for _, r := range l.records {
		if !matches(r, q) {
			continue
		}
		if seen >= offset && len(out) < limit {
			c := *r
			out = append(out, &c)
		}
		seen++
	}
	return out, nil
}

func (l *TransactionLog) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.err
}

func matches(r *v1.Record, q storage.ScanQuery) bool {
	if r.ProcessingDate.Before(q.Start) || !r.ProcessingDate.Before(q.End) {
		return false
	}
	return q.EntityID == "" || r.EntityID == q.EntityID
}
