package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	v1 "github.com/aevon-lab/ledgerview/internal/api/v1"
	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/partition"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

const (
	defaultBatchSize      = 5000
	defaultWorkerCount    = 4
	defaultComputeTimeout = 2 * time.Minute

	dayLayout = "2006-01-02"
)

// EngineOptions controls throughput and limits of one aggregation pass.
type EngineOptions struct {
	BatchSize      int
	WorkerCount    int
	ComputeTimeout time.Duration
}

// DefaultEngineOptions returns safe defaults for on-demand rebuilds.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		BatchSize:      defaultBatchSize,
		WorkerCount:    defaultWorkerCount,
		ComputeTimeout: defaultComputeTimeout,
	}
}

func (o EngineOptions) normalized() EngineOptions {
	n := o
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if n.ComputeTimeout <= 0 {
		n.ComputeTimeout = defaultComputeTimeout
	}
	return n
}

// ProgressFunc receives the running row count of a pass.
type ProgressFunc func(storage.JobProgress)

// Result is the outcome of one successful pass.
type Result struct {
	Payload      aggregation.Payload
	RowCount     int64
	SkippedCount int64
	Duration     time.Duration
}

// Engine computes aggregate payloads from the transaction log.
// It holds no state between passes and is safe for concurrent use.
type Engine struct {
	log   storage.TransactionLog
	kinds *aggregation.KindRegistry
	opts  EngineOptions
}

// NewEngine creates an engine reading from log.
func NewEngine(log storage.TransactionLog, kinds *aggregation.KindRegistry, opts EngineOptions) *Engine {
	return &Engine{log: log, kinds: kinds, opts: opts.normalized()}
}

// Kinds returns the registry the engine resolves kinds against.
func (e *Engine) Kinds() *aggregation.KindRegistry {
	return e.kinds
}

// Compute runs one full pass for key. progress may be nil.
// The returned payload has already been reconciled.
func (e *Engine) Compute(ctx context.Context, key aggregation.AggregateKey, progress ProgressFunc) (*Result, error) {
	def, err := e.kinds.Get(key.Kind)
	if err != nil {
		return nil, err
	}
	if err := def.ValidateKey(key); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(storage.JobProgress) {}
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.ComputeTimeout)
	defer cancel()

	start := time.Now()
	q := storage.ScanQuery{Start: key.Period.Start, End: key.Period.End(), EntityID: key.Dimension}

	total, err := e.log.CountRecords(ctx, q)
	if err != nil {
		return nil, classifyReadError(ctx, "count records", err)
	}

	var (
		payload aggregation.Payload
		skipped int64
	)
	if def.Shape == aggregation.ShapeListing {
		payload, skipped, err = e.computeListing(ctx, def, key, q, total, progress)
	} else {
		payload, skipped, err = e.computeFold(ctx, def, key, q, total, progress)
	}
	if err != nil {
		return nil, err
	}

	if err := payload.Reconcile(); err != nil {
		slog.Error("[Engine] Reconciliation failed", "key", key.String(), "error", err)
		return nil, err
	}

	res := &Result{
		Payload:      payload,
		RowCount:     payload.Rows(),
		SkippedCount: skipped,
		Duration:     time.Since(start),
	}
	slog.Info("[Engine] Pass complete",
		"key", key.String(),
		"rows", res.RowCount,
		"skipped", res.SkippedCount,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Engine) computeFold(
	ctx context.Context,
	def aggregation.KindDefinition,
	key aggregation.AggregateKey,
	q storage.ScanQuery,
	total int64,
	progress ProgressFunc,
) (aggregation.Payload, int64, error) {
	acc := newAccumulator(def)
	var (
		cursor    int64
		processed int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, classifyReadError(ctx, "scan records", err)
		}
		batch, err := e.log.ScanRecords(ctx, q, cursor, e.opts.BatchSize)
		if err != nil {
			return nil, 0, classifyReadError(ctx, "scan records", err)
		}
		if len(batch) == 0 {
			break
		}

		acc.merge(foldConcurrently(batch, def, e.opts.WorkerCount))
		cursor = batch[len(batch)-1].Seq
		processed += int64(len(batch))
		if processed > total {
			// Rows appended after the count query are included in the pass.
			total = processed
		}
		progress(storage.JobProgress{Processed: processed, Total: total})

		slog.Debug("[Engine] Batch folded", "key", key.String(), "batch", len(batch), "cursor", cursor)
		if len(batch) < e.opts.BatchSize {
			break
		}
	}
	return acc.payload(), acc.skipped, nil
}

func (e *Engine) computeListing(
	ctx context.Context,
	def aggregation.KindDefinition,
	key aggregation.AggregateKey,
	q storage.ScanQuery,
	total int64,
	progress ProgressFunc,
) (aggregation.Payload, int64, error) {
	offset := (key.Period.Page - 1) * def.PageSize
	rows, err := e.log.ListPage(ctx, q, offset, def.PageSize)
	if err != nil {
		return nil, 0, classifyReadError(ctx, "list page", err)
	}
	if end := int64(offset + len(rows)); end > total {
		// Rows appended after the count query; the count is a lower bound.
		total = end
	}

	page := &aggregation.ListingPayload{
		Page:      key.Period.Page,
		PageSize:  def.PageSize,
		TotalRows: total,
		HasMore:   int64(offset+len(rows)) < total,
		Records:   make([]v1.RecordSummary, 0, len(rows)),
	}
	for _, r := range rows {
		amount, err := validAmount(r)
		if err != nil {
			page.Skipped++
			slog.Warn("[Engine] Skipping malformed record", "key", key.String(), "seq", r.Seq, "error", err)
			continue
		}
		page.Records = append(page.Records, v1.RecordSummary{
			Seq:            r.Seq,
			ID:             r.ID,
			UploadID:       r.UploadID,
			EntityID:       r.EntityID,
			RecordType:     r.RecordType,
			ProcessingDate: r.ProcessingDate.UTC().Format(dayLayout),
			Amount:         amount,
		})
	}
	progress(storage.JobProgress{Processed: int64(len(rows)), Total: int64(len(rows))})
	return page, int64(page.Skipped), nil
}

// foldConcurrently shards a batch by grouping value and folds each shard on its
// own worker. Every value lands on exactly one worker so partial results never
// overlap within a batch.
func foldConcurrently(batch []*v1.Record, def aggregation.KindDefinition, workers int) *accumulator {
	workerCount := minInt(workers, len(batch))
	if workerCount <= 1 {
		acc := newAccumulator(def)
		for _, r := range batch {
			acc.add(r)
		}
		return acc
	}

	shards := make([][]*v1.Record, workerCount)
	for _, r := range batch {
		i := partition.For(dimensionValue(r, def.GroupBy), workerCount)
		shards[i] = append(shards[i], r)
	}

	jobs := make(chan []*v1.Record, workerCount)
	results := make(chan *accumulator, workerCount)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			local := newAccumulator(def)
			for rows := range jobs {
				for _, r := range rows {
					local.add(r)
				}
			}
			results <- local
		}()
	}

	for _, rows := range shards {
		if len(rows) > 0 {
			jobs <- rows
		}
	}
	close(jobs)

	wg.Wait()
	close(results)

	merged := newAccumulator(def)
	for local := range results {
		merged.merge(local)
	}
	return merged
}

type dimAcc struct {
	count  int64
	amount decimal.Decimal
}

// accumulator is the partial state of an activity or totals pass.
type accumulator struct {
	def     aggregation.KindDefinition
	agg     aggregation.Aggregator
	rows    int64
	skipped int64
	days    map[string]int64
	dims    map[string]*dimAcc
}

func newAccumulator(def aggregation.KindDefinition) *accumulator {
	a := &accumulator{
		def:  def,
		days: make(map[string]int64),
		dims: make(map[string]*dimAcc),
	}
	if def.Shape == aggregation.ShapeTotals {
		a.agg = aggregation.Operators[def.Measure]
	}
	return a
}

func (a *accumulator) add(r *v1.Record) {
	amount, err := validAmount(r)
	if err != nil {
		a.skipped++
		slog.Debug("[Engine] Skipping malformed record", "kind", a.def.Name, "seq", r.Seq, "error", err)
		return
	}

	a.rows++
	a.days[r.ProcessingDate.UTC().Format(dayLayout)]++

	dim := dimensionValue(r, a.def.GroupBy)
	d, ok := a.dims[dim]
	if !ok {
		d = &dimAcc{}
		a.dims[dim] = d
	}
	if a.agg != nil {
		if d.count == 0 {
			d.amount = a.agg.Initial(amount)
		} else {
			d.amount = a.agg.Apply(d.amount, amount)
		}
	}
	d.count++
}

func (a *accumulator) merge(b *accumulator) {
	a.rows += b.rows
	a.skipped += b.skipped
	for day, n := range b.days {
		a.days[day] += n
	}
	for dim, bd := range b.dims {
		d, ok := a.dims[dim]
		if !ok {
			a.dims[dim] = &dimAcc{count: bd.count, amount: bd.amount}
			continue
		}
		if a.agg != nil && bd.count > 0 {
			if d.count == 0 {
				d.amount = bd.amount
			} else {
				d.amount = a.agg.Merge(d.amount, bd.amount)
			}
		}
		d.count += bd.count
	}
}

func (a *accumulator) payload() aggregation.Payload {
	if a.def.Shape == aggregation.ShapeActivity {
		p := &aggregation.ActivityPayload{
			Total:     a.rows,
			Buckets:   make(map[string]int64, len(a.days)),
			Breakdown: make(map[string]int64, len(a.dims)),
		}
		for day, n := range a.days {
			p.Buckets[day] = n
		}
		for dim, d := range a.dims {
			p.Breakdown[dim] = d.count
		}
		return p
	}

	p := &aggregation.TotalsPayload{
		Count:     a.rows,
		Amount:    decimal.Zero,
		Measure:   a.def.Measure,
		Breakdown: make(map[string]aggregation.DimensionTotal, len(a.dims)),
	}
	first := true
	for dim, d := range a.dims {
		p.Breakdown[dim] = aggregation.DimensionTotal{Count: d.count, Amount: d.amount}
		if d.count == 0 {
			continue
		}
		if first {
			p.Amount, first = d.amount, false
			continue
		}
		p.Amount = a.agg.Merge(p.Amount, d.amount)
	}
	return p
}

// validAmount validates r and returns its major-unit amount.
func validAmount(r *v1.Record) (decimal.Decimal, error) {
	if err := r.Validate(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: seq %d: %v", aggregation.ErrMalformedRecord, r.Seq, err)
	}
	amount, err := r.Amount()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: seq %d: %v", aggregation.ErrMalformedRecord, r.Seq, err)
	}
	return amount, nil
}

// dimensionValue returns the breakdown bucket of r. Empty values are unassigned.
func dimensionValue(r *v1.Record, by aggregation.GroupBy) string {
	var v string
	switch by {
	case aggregation.GroupByEntity:
		v = r.EntityID
	case aggregation.GroupByUpload:
		v = r.UploadID
	case aggregation.GroupByDay:
		if !r.ProcessingDate.IsZero() {
			v = r.ProcessingDate.UTC().Format(dayLayout)
		}
	default:
		v = r.RecordType
	}
	if v == "" {
		return aggregation.Unassigned
	}
	return v
}

// classifyReadError maps a log read failure to the engine's error taxonomy.
func classifyReadError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", aggregation.ErrTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", aggregation.ErrSourceUnavailable, op, err)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
