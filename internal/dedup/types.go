package dedup

import (
	"time"

	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// Target names what a group member or orphan is.
type Target string

const (
	TargetUpload        Target = "upload"
	TargetAggregate     Target = "aggregate"
	TargetStorageObject Target = "storage_object"
)

// Action is a purge decision for one item.
type Action string

const (
	ActionSoftDeleteUpload Action = "soft_delete_upload"
	ActionDeleteAggregate  Action = "delete_aggregate"
	ActionDeleteRecord     Action = "delete_record"  // object already absent
	ActionMarkForPurge     Action = "mark_for_purge" // present, first sighting
	ActionAwaitGrace       Action = "await_grace"    // present, marked recently
	ActionDeleteObject     Action = "delete_object"  // present, grace elapsed
	ActionInconclusive     Action = "inconclusive"
)

// Member is one row inside a duplicate group.
type Member struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	State     string    `json:"state,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`

	ref storage.AggregateRef
}

// DuplicateGroup is a set of rows that share a logical key. Exactly one member is kept.
type DuplicateGroup struct {
	LogicalKey       string   `json:"logical_key"`
	Target           Target   `json:"target"`
	KeepID           string   `json:"keep_id"`
	Members          []Member `json:"members"`
	RemovableCount   int      `json:"removable_count"`
	ReclaimableBytes int64    `json:"reclaimable_bytes"`
}

// Removable returns every member except the kept one.
func (g DuplicateGroup) Removable() []Member {
	out := make([]Member, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m.ID != g.KeepID {
			out = append(out, m)
		}
	}
	return out
}

// Orphan is a storage object with no live upload, or an aggregate of a retired kind.
type Orphan struct {
	ID            string     `json:"id"`
	Target        Target     `json:"target"`
	UploadID      string     `json:"upload_id,omitempty"`
	ObjectKey     string     `json:"object_key,omitempty"`
	SizeBytes     int64      `json:"size_bytes"`
	PurgeMarkedAt *time.Time `json:"purge_marked_at,omitempty"`
	Reason        string     `json:"reason"`

	ref storage.AggregateRef
}

// DuplicateReport is the read-only result of a scan.
type DuplicateReport struct {
	GeneratedAt      time.Time        `json:"generated_at"`
	Groups           []DuplicateGroup `json:"groups"`
	Orphans          []Orphan         `json:"orphans"`
	RemovableCount   int              `json:"removable_count"`
	ReclaimableBytes int64            `json:"reclaimable_bytes"`
}

// PurgeRequest selects what a purge may touch. Empty TargetIDs means everything reported.
type PurgeRequest struct {
	DryRun    bool     `json:"dry_run"`
	TargetIDs []string `json:"target_ids"`
}

// PurgeItem is the decision taken for one duplicate member or orphan.
type PurgeItem struct {
	ID      string `json:"id"`
	Target  Target `json:"target"`
	Action  Action `json:"action"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// PurgeResult summarizes a purge run.
type PurgeResult struct {
	DryRun         bool           `json:"dry_run"`
	Items          []PurgeItem    `json:"items"`
	Counts         map[Action]int `json:"counts"`
	ReclaimedBytes int64          `json:"reclaimed_bytes"`
}
