package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
	"github.com/aevon-lab/ledgerview/internal/metrics"
)

// Options tunes object store verification.
type Options struct {
	ExistsRate        float64 // Exists calls per second
	ExistsBurst       int
	VerifyConcurrency int
	PurgeGrace        time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ExistsRate:        20,
		ExistsBurst:       5,
		VerifyConcurrency: 4,
		PurgeGrace:        24 * time.Hour,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.ExistsRate <= 0 {
		o.ExistsRate = d.ExistsRate
	}
	if o.ExistsBurst <= 0 {
		o.ExistsBurst = d.ExistsBurst
	}
	if o.VerifyConcurrency <= 0 {
		o.VerifyConcurrency = d.VerifyConcurrency
	}
	if o.PurgeGrace < 0 {
		o.PurgeGrace = 0
	}
	return o
}

// Detector finds duplicate uploads, duplicate aggregates and orphans, and purges them.
type Detector struct {
	uploads    storage.UploadStore
	aggregates storage.AggregateStore
	objects    storage.ObjectStore // nil when no object store is configured
	kinds      *aggregation.KindRegistry
	opts       Options
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewDetector wires a detector. objects may be nil, in which case every orphan
// object is reported but left untouched as inconclusive.
func NewDetector(uploads storage.UploadStore, aggregates storage.AggregateStore, objects storage.ObjectStore, kinds *aggregation.KindRegistry, opts Options) *Detector {
	if uploads == nil || aggregates == nil || kinds == nil {
		panic("dedup: NewDetector requires upload store, aggregate store and kind registry")
	}
	opts = opts.normalized()
	return &Detector{
		uploads:    uploads,
		aggregates: aggregates,
		objects:    objects,
		kinds:      kinds,
		opts:       opts,
		limiter:    rate.NewLimiter(rate.Limit(opts.ExistsRate), opts.ExistsBurst),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Scan builds a report without modifying anything.
func (d *Detector) Scan(ctx context.Context) (*DuplicateReport, error) {
	uploads, err := d.uploads.ListUploads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	aggregates, err := d.aggregates.ListAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	objects, err := d.uploads.ListOrphanObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orphan objects: %w", err)
	}

	report := &DuplicateReport{GeneratedAt: d.now()}
	report.Groups = append(report.Groups, uploadGroups(uploads)...)

	live := make([]storage.StoredAggregate, 0, len(aggregates))
	for _, a := range aggregates {
		if !d.kinds.Has(a.Kind) {
			report.Orphans = append(report.Orphans, Orphan{
				ID:        aggregateID(a.Ref()),
				Target:    TargetAggregate,
				SizeBytes: a.PayloadBytes,
				Reason:    "kind not registered",
				ref:       a.Ref(),
			})
			continue
		}
		live = append(live, a)
	}
	report.Groups = append(report.Groups, aggregateGroups(live)...)

	for _, o := range objects {
		report.Orphans = append(report.Orphans, Orphan{
			ID:            o.ID,
			Target:        TargetStorageObject,
			UploadID:      o.UploadID,
			ObjectKey:     o.ObjectKey,
			SizeBytes:     o.SizeBytes,
			PurgeMarkedAt: o.PurgeMarkedAt,
			Reason:        "upload missing or deleted",
		})
	}

	sort.Slice(report.Groups, func(i, j int) bool {
		gi, gj := report.Groups[i], report.Groups[j]
		if gi.Target != gj.Target {
			return gi.Target > gj.Target // uploads first
		}
		return gi.LogicalKey < gj.LogicalKey
	})
	sort.SliceStable(report.Orphans, func(i, j int) bool {
		if report.Orphans[i].Target != report.Orphans[j].Target {
			return report.Orphans[i].Target > report.Orphans[j].Target
		}
		return report.Orphans[i].ID < report.Orphans[j].ID
	})

	for _, g := range report.Groups {
		report.RemovableCount += g.RemovableCount
		report.ReclaimableBytes += g.ReclaimableBytes
	}
	for _, o := range report.Orphans {
		report.RemovableCount++
		report.ReclaimableBytes += o.SizeBytes
	}
	return report, nil
}

func uploadGroups(uploads []storage.Upload) []DuplicateGroup {
	byKey := make(map[string][]storage.Upload)
	for _, u := range uploads {
		k := uploadLogicalKey(u)
		byKey[k] = append(byKey[k], u)
	}

	var groups []DuplicateGroup
	for key, members := range byKey {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return keepUploadFirst(members[i], members[j]) })

		g := DuplicateGroup{LogicalKey: key, Target: TargetUpload, KeepID: members[0].ID}
		for i, u := range members {
			g.Members = append(g.Members, Member{
				ID:        u.ID,
				Label:     u.Filename,
				State:     string(u.State),
				SizeBytes: u.SizeBytes,
				CreatedAt: u.CreatedAt,
			})
			if i > 0 {
				g.RemovableCount++
				g.ReclaimableBytes += u.SizeBytes
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// keepUploadFirst orders by pipeline progress, then recency, then id.
func keepUploadFirst(a, b storage.Upload) bool {
	if ra, rb := a.State.Rank(), b.State.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func aggregateGroups(rows []storage.StoredAggregate) []DuplicateGroup {
	byKey := make(map[string][]storage.StoredAggregate)
	for _, a := range rows {
		k := aggregateLogicalKey(a)
		byKey[k] = append(byKey[k], a)
	}

	var groups []DuplicateGroup
	for key, members := range byKey {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return keepAggregateFirst(members[i], members[j]) })

		g := DuplicateGroup{LogicalKey: key, Target: TargetAggregate, KeepID: aggregateID(members[0].Ref())}
		for i, a := range members {
			g.Members = append(g.Members, Member{
				ID:        aggregateID(a.Ref()),
				Label:     a.Kind + " " + a.Period + " " + a.Dimension,
				SizeBytes: a.PayloadBytes,
				CreatedAt: a.BuiltAt,
				ref:       a.Ref(),
			})
			if i > 0 {
				g.RemovableCount++
				g.ReclaimableBytes += a.PayloadBytes
			}
		}
		groups = append(groups, g)
	}
	return groups
}

func keepAggregateFirst(a, b storage.StoredAggregate) bool {
	if ca, cb := canonical(a), canonical(b); ca != cb {
		return ca
	}
	if !a.BuiltAt.Equal(b.BuiltAt) {
		return a.BuiltAt.After(b.BuiltAt)
	}
	return aggregateID(a.Ref()) < aggregateID(b.Ref())
}

// Purge scans, then removes what the scan reported and the request selects.
// Upload duplicates are soft-deleted; their objects surface as orphans on the
// next run, so object deletion always goes through the mark then grace cycle.
func (d *Detector) Purge(ctx context.Context, req PurgeRequest) (*PurgeResult, error) {
	report, err := d.Scan(ctx)
	if err != nil {
		return nil, err
	}

	selected := func(string) bool { return true }
	if len(req.TargetIDs) > 0 {
		ids := make(map[string]struct{}, len(req.TargetIDs))
		for _, id := range req.TargetIDs {
			ids[id] = struct{}{}
		}
		selected = func(id string) bool {
			_, ok := ids[id]
			return ok
		}
	}

	result := &PurgeResult{DryRun: req.DryRun, Counts: make(map[Action]int)}
	var (
		uploadIDs  []string
		uploadSize int64
		aggRefs    []storage.AggregateRef
		aggSize    int64
		orphans    []Orphan
	)

	for _, g := range report.Groups {
		for _, m := range g.Removable() {
			if !selected(m.ID) {
				continue
			}
			switch g.Target {
			case TargetUpload:
				uploadIDs = append(uploadIDs, m.ID)
				uploadSize += m.SizeBytes
			case TargetAggregate:
				aggRefs = append(aggRefs, m.ref)
				aggSize += m.SizeBytes
			}
		}
	}
	for _, o := range report.Orphans {
		if !selected(o.ID) {
			continue
		}
		switch o.Target {
		case TargetAggregate:
			aggRefs = append(aggRefs, o.ref)
			aggSize += o.SizeBytes
		case TargetStorageObject:
			orphans = append(orphans, o)
		}
	}

	uploadItems := d.applyUploads(ctx, uploadIDs, req.DryRun)
	result.Items = append(result.Items, uploadItems...)
	if len(uploadItems) > 0 && (req.DryRun || uploadItems[0].Applied) {
		result.ReclaimedBytes += uploadSize
	}

	aggItems := d.applyAggregates(ctx, aggRefs, req.DryRun)
	result.Items = append(result.Items, aggItems...)
	if len(aggItems) > 0 && (req.DryRun || aggItems[0].Applied) {
		result.ReclaimedBytes += aggSize
	}

	objectItems, reclaimed, err := d.verifyObjects(ctx, orphans, req.DryRun)
	if err != nil {
		return nil, err
	}
	result.Items = append(result.Items, objectItems...)
	result.ReclaimedBytes += reclaimed

	for _, item := range result.Items {
		result.Counts[item.Action]++
		if item.Applied {
			metrics.DetectorActions.WithLabelValues(string(item.Target), string(item.Action)).Inc()
		}
	}

	slog.Info("[Detector] Purge finished",
		"dry_run", req.DryRun,
		"items", len(result.Items),
		"reclaimed_bytes", result.ReclaimedBytes)
	return result, nil
}

func (d *Detector) applyUploads(ctx context.Context, ids []string, dryRun bool) []PurgeItem {
	if len(ids) == 0 {
		return nil
	}
	items := make([]PurgeItem, len(ids))
	for i, id := range ids {
		items[i] = PurgeItem{ID: id, Target: TargetUpload, Action: ActionSoftDeleteUpload}
	}
	if dryRun {
		return items
	}

	_, err := d.uploads.SoftDeleteUploads(ctx, ids, d.now())
	for i := range items {
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		items[i].Applied = true
	}
	if err != nil {
		slog.Error("[Detector] Soft delete failed", "count", len(ids), "error", err)
	}
	return items
}

func (d *Detector) applyAggregates(ctx context.Context, refs []storage.AggregateRef, dryRun bool) []PurgeItem {
	if len(refs) == 0 {
		return nil
	}
	items := make([]PurgeItem, len(refs))
	for i, ref := range refs {
		items[i] = PurgeItem{ID: aggregateID(ref), Target: TargetAggregate, Action: ActionDeleteAggregate}
	}
	if dryRun {
		return items
	}

	_, err := d.aggregates.Delete(ctx, refs)
	for i := range items {
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		items[i].Applied = true
	}
	if err != nil {
		slog.Error("[Detector] Aggregate delete failed", "count", len(refs), "error", err)
	}
	return items
}

// verifyObjects checks each orphan against the object store with a shared
// token bucket and bounded concurrency, then applies the two-phase decision.
func (d *Detector) verifyObjects(ctx context.Context, orphans []Orphan, dryRun bool) ([]PurgeItem, int64, error) {
	if len(orphans) == 0 {
		return nil, 0, nil
	}
	items := make([]PurgeItem, len(orphans))
	now := d.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.VerifyConcurrency)
	for i, o := range orphans {
		g.Go(func() error {
			item, err := d.verifyOne(gctx, o, now, dryRun)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("verify orphan objects: %w", err)
	}

	var (
		markIDs   []string
		deleteIDs []string
		reclaimed int64
	)
	for i, item := range items {
		switch item.Action {
		case ActionMarkForPurge:
			markIDs = append(markIDs, item.ID)
		case ActionDeleteRecord, ActionDeleteObject:
			if item.Error == "" {
				deleteIDs = append(deleteIDs, item.ID)
				reclaimed += orphans[i].SizeBytes
			}
		}
	}
	if dryRun {
		return items, reclaimed, nil
	}

	markErr := d.applyBatch(markIDs, func(ids []string) error {
		_, err := d.uploads.MarkObjectsForPurge(ctx, ids, now)
		return err
	})
	deleteErr := d.applyBatch(deleteIDs, func(ids []string) error {
		_, err := d.uploads.DeleteObjectRecords(ctx, ids)
		return err
	})
	if deleteErr != nil {
		reclaimed = 0
	}
	for i := range items {
		switch items[i].Action {
		case ActionMarkForPurge:
			setApplied(&items[i], markErr)
		case ActionDeleteRecord, ActionDeleteObject:
			if items[i].Error == "" {
				setApplied(&items[i], deleteErr)
			}
		}
	}
	return items, reclaimed, nil
}

func (d *Detector) applyBatch(ids []string, apply func([]string) error) error {
	if len(ids) == 0 {
		return nil
	}
	if err := apply(ids); err != nil {
		slog.Error("[Detector] Storage object update failed", "count", len(ids), "error", err)
		return err
	}
	return nil
}

func setApplied(item *PurgeItem, err error) {
	if err != nil {
		item.Error = err.Error()
		return
	}
	item.Applied = true
}

// verifyOne returns an error only when the caller's context ends. Every
// other failure is recorded on the item as inconclusive.
func (d *Detector) verifyOne(ctx context.Context, o Orphan, now time.Time, dryRun bool) (PurgeItem, error) {
	item := PurgeItem{ID: o.ID, Target: TargetStorageObject}

	present, err := d.exists(ctx, o.ObjectKey)
	if err != nil {
		if ctx.Err() != nil {
			return item, ctx.Err()
		}
		return inconclusive(item, o, err), nil
	}

	switch {
	case !present:
		item.Action = ActionDeleteRecord
	case o.PurgeMarkedAt == nil:
		item.Action = ActionMarkForPurge
	case now.Sub(*o.PurgeMarkedAt) < d.opts.PurgeGrace:
		item.Action = ActionAwaitGrace
	default:
		item.Action = ActionDeleteObject
		if dryRun {
			return item, nil
		}
		if err := d.objects.Delete(ctx, o.ObjectKey); err != nil {
			return inconclusive(item, o, fmt.Errorf("delete object: %w", err)), nil
		}
		still, err := d.exists(ctx, o.ObjectKey)
		if err != nil {
			if ctx.Err() != nil {
				return item, ctx.Err()
			}
			return inconclusive(item, o, err), nil
		}
		if still {
			return inconclusive(item, o, errors.New("object still present after delete")), nil
		}
	}
	return item, nil
}

func inconclusive(item PurgeItem, o Orphan, err error) PurgeItem {
	slog.Warn("[Detector] Verification inconclusive, leaving object untouched",
		"object_id", o.ID,
		"object_key", o.ObjectKey,
		"error", err)
	item.Action = ActionInconclusive
	item.Error = fmt.Errorf("%w: %w", storage.ErrVerificationInconclusive, err).Error()
	return item
}

func (d *Detector) exists(ctx context.Context, key string) (bool, error) {
	if d.objects == nil {
		metrics.ObjectChecks.WithLabelValues("error").Inc()
		return false, errors.New("no object store configured")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return false, err
	}
	present, err := d.objects.Exists(ctx, key)
	switch {
	case err != nil:
		metrics.ObjectChecks.WithLabelValues("error").Inc()
	case present:
		metrics.ObjectChecks.WithLabelValues("present").Inc()
	default:
		metrics.ObjectChecks.WithLabelValues("absent").Inc()
	}
	return present, err
}
