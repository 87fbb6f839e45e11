package aggregation

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Shape names the fixed payload layout a kind produces.
type Shape string

const (
	ShapeActivity Shape = "activity" // row counts per day plus a breakdown
	ShapeTotals   Shape = "totals"   // count and measured amount plus a breakdown
	ShapeListing  Shape = "listing"  // one page of record summaries
)

// GroupBy names the breakdown dimension of a kind.
type GroupBy string

const (
	GroupByRecordType GroupBy = "record_type"
	GroupByEntity     GroupBy = "entity"
	GroupByUpload     GroupBy = "upload"
	GroupByDay        GroupBy = "day"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// KindDefinition describes one aggregate kind.
// Definitions are loaded once at startup and fingerprinted; a durable record
// built under another fingerprint is stale.
type KindDefinition struct {
	Name         string
	Shape        Shape
	Grains       []Grain
	GroupBy      GroupBy
	Measure      string // totals only: count, sum, min, max
	PageSize     int    // listing only
	MaxAge       time.Duration
	NeverExpires bool // default for records built by this kind
	Description  string
	Fingerprint  string // SHA-256 of the canonical YAML form
}

// AllowsGrain reports whether g is a valid period grain for the kind.
func (d KindDefinition) AllowsGrain(g Grain) bool {
	for _, allowed := range d.Grains {
		if allowed == g {
			return true
		}
	}
	return false
}

// ValidateKey checks that key's period fits the kind.
func (d KindDefinition) ValidateKey(key AggregateKey) error {
	if !d.AllowsGrain(key.Period.Grain) {
		return fmt.Errorf("%w: kind %q does not allow %s periods", ErrInvalidPeriod, d.Name, key.Period.Grain)
	}
	if d.Shape == ShapeListing && !key.Period.IsPage() {
		return fmt.Errorf("%w: kind %q requires a page token (e.g. %s:p1)", ErrInvalidPeriod, d.Name, key.Period)
	}
	if d.Shape != ShapeListing && key.Period.IsPage() {
		return fmt.Errorf("%w: kind %q is not paginated", ErrInvalidPeriod, d.Name)
	}
	return nil
}

// rawKind is the on-disk YAML shape.
type rawKind struct {
	Name         string   `yaml:"name"`
	Shape        string   `yaml:"shape"`
	Grains       []string `yaml:"grains"`
	GroupBy      string   `yaml:"group_by,omitempty"`
	Measure      string   `yaml:"measure,omitempty"`
	PageSize     int      `yaml:"page_size,omitempty"`
	MaxAge       string   `yaml:"max_age,omitempty"`
	NeverExpires bool     `yaml:"never_expires,omitempty"`
	Description  string   `yaml:"description,omitempty"`
}

// DefaultKinds are registered before any kind files are read.
// A file defining the same name replaces the built-in.
func DefaultKinds() []KindDefinition {
	raws := []rawKind{
		{
			Name:        "daily-activity-count",
			Shape:       string(ShapeActivity),
			Grains:      []string{string(GrainDay), string(GrainMonth)},
			GroupBy:     string(GroupByRecordType),
			MaxAge:      "1h",
			Description: "Row counts per processing day, broken down by record type (activity heatmap).",
		},
		{
			Name:        "monthly-totals",
			Shape:       string(ShapeTotals),
			Grains:      []string{string(GrainMonth), string(GrainYear)},
			GroupBy:     string(GroupByRecordType),
			Measure:     OpSum,
			MaxAge:      "6h",
			Description: "Row count and amount sum per month or year, broken down by record type.",
		},
		{
			Name:        "entity-daily-totals",
			Shape:       string(ShapeTotals),
			Grains:      []string{string(GrainDay)},
			GroupBy:     string(GroupByEntity),
			Measure:     OpSum,
			MaxAge:      "1h",
			Description: "Per-entity daily totals.",
		},
		{
			Name:        "record-listing-page",
			Shape:       string(ShapeListing),
			Grains:      []string{string(GrainDay), string(GrainMonth)},
			PageSize:    defaultPageSize,
			MaxAge:      "30m",
			Description: "One page of records for a day or month, ordered by log sequence.",
		},
	}

	defs := make([]KindDefinition, 0, len(raws))
	for _, raw := range raws {
		data, err := yaml.Marshal(raw)
		if err != nil {
			panic(fmt.Sprintf("marshal built-in kind %q: %v", raw.Name, err))
		}
		def, err := compileKind(raw, data)
		if err != nil {
			panic(fmt.Sprintf("built-in kind %q: %v", raw.Name, err))
		}
		defs = append(defs, def)
	}
	return defs
}

func compileKind(raw rawKind, data []byte) (KindDefinition, error) {
	def := KindDefinition{
		Name:         raw.Name,
		Shape:        Shape(raw.Shape),
		GroupBy:      GroupBy(raw.GroupBy),
		Measure:      raw.Measure,
		PageSize:     raw.PageSize,
		NeverExpires: raw.NeverExpires,
		Description:  raw.Description,
		Fingerprint:  fmt.Sprintf("%x", sha256.Sum256(data)),
	}

	switch def.Shape {
	case ShapeActivity, ShapeTotals, ShapeListing:
	default:
		return KindDefinition{}, fmt.Errorf("unsupported shape %q", raw.Shape)
	}

	if len(raw.Grains) == 0 {
		return KindDefinition{}, fmt.Errorf("grains must not be empty")
	}
	for _, g := range raw.Grains {
		grain := Grain(g)
		switch grain {
		case GrainDay, GrainMonth, GrainYear:
		default:
			return KindDefinition{}, fmt.Errorf("unsupported grain %q", g)
		}
		def.Grains = append(def.Grains, grain)
	}

	if def.Shape != ShapeListing {
		if def.GroupBy == "" {
			def.GroupBy = GroupByRecordType
		}
		switch def.GroupBy {
		case GroupByRecordType, GroupByEntity, GroupByUpload, GroupByDay:
		default:
			return KindDefinition{}, fmt.Errorf("unsupported group_by %q", raw.GroupBy)
		}
	}

	if def.Shape == ShapeTotals {
		if def.Measure == "" {
			def.Measure = OpSum
		}
		if !ValidOperator(def.Measure) {
			return KindDefinition{}, fmt.Errorf("unsupported measure %q", def.Measure)
		}
	} else if def.Measure != "" {
		return KindDefinition{}, fmt.Errorf("measure is only valid for totals kinds")
	}

	if def.Shape == ShapeListing {
		if def.PageSize == 0 {
			def.PageSize = defaultPageSize
		}
		if def.PageSize < 0 || def.PageSize > maxPageSize {
			return KindDefinition{}, fmt.Errorf("page_size must be in 1..%d", maxPageSize)
		}
	}

	if raw.MaxAge != "" {
		d, err := time.ParseDuration(raw.MaxAge)
		if err != nil {
			return KindDefinition{}, fmt.Errorf("invalid max_age %q: %w", raw.MaxAge, err)
		}
		if d < 0 {
			return KindDefinition{}, fmt.Errorf("max_age must not be negative")
		}
		def.MaxAge = d
	}

	return def, nil
}

// KindRegistry resolves kind names to definitions. Read-only after construction.
type KindRegistry struct {
	kinds map[string]KindDefinition
}

// NewKindRegistry builds a registry from definitions. Later definitions with the
// same name replace earlier ones.
func NewKindRegistry(defs ...KindDefinition) *KindRegistry {
	r := &KindRegistry{kinds: make(map[string]KindDefinition, len(defs))}
	for _, def := range defs {
		r.kinds[def.Name] = def
	}
	return r
}

// LoadKindRegistry registers DefaultKinds, then every *.yaml/*.yml file in dir.
// A missing dir is valid (built-ins only). Malformed files fail the load.
func LoadKindRegistry(dir string) (*KindRegistry, error) {
	r := NewKindRegistry(DefaultKinds()...)
	if dir == "" {
		return r, nil
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kind dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("kind path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading kind dir: %w", err)
	}

	fromFiles := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading kind file %s: %w", path, err)
		}

		var raw rawKind
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing kind file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}
		if prev, exists := fromFiles[raw.Name]; exists {
			return nil, fmt.Errorf("kind %q: defined in both %s and %s", raw.Name, prev, path)
		}

		def, err := compileKind(raw, data)
		if err != nil {
			return nil, fmt.Errorf("kind %q (%s): %w", raw.Name, path, err)
		}
		fromFiles[raw.Name] = path
		r.kinds[def.Name] = def
	}
	return r, nil
}

// Get returns the definition for name.
func (r *KindRegistry) Get(name string) (KindDefinition, error) {
	def, ok := r.kinds[name]
	if !ok {
		return KindDefinition{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return def, nil
}

// Has reports whether name is registered.
func (r *KindRegistry) Has(name string) bool {
	_, ok := r.kinds[name]
	return ok
}

// List returns all definitions sorted by name.
func (r *KindRegistry) List() []KindDefinition {
	out := make([]KindDefinition, 0, len(r.kinds))
	for _, def := range r.kinds {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
