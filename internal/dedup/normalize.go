package dedup

import (
	"path"
	"regexp"
	"strings"

	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	copyPrefix = regexp.MustCompile(`^copy of `)
	// "name (1)", "name - copy", "name copy 2", stacked in any order.
	copySuffix = regexp.MustCompile(`(?:\s*\(\d+\)|\s*-\s*copy(?:\s*\(\d+\))?|\s+copy(?:\s+\d+)?)+$`)
)

// NormalizeFilename reduces an uploaded filename to the form duplicate
// uploads share: base name only, lowercased, whitespace collapsed, and the
// copy markers file managers and the uploader append removed.
func NormalizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	name = path.Base(name)
	name = whitespace.ReplaceAllString(strings.ToLower(name), " ")

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stem = copyPrefix.ReplaceAllString(stem, "")
	stem = strings.TrimSpace(copySuffix.ReplaceAllString(stem, ""))
	return stem + ext
}

func uploadLogicalKey(u storage.Upload) string {
	if bk := strings.TrimSpace(u.BusinessKey); bk != "" {
		return "business_key:" + strings.ToLower(bk)
	}
	return "filename:" + NormalizeFilename(u.Filename)
}

func normalizeDimension(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

func aggregateLogicalKey(a storage.StoredAggregate) string {
	key := a.Kind + "/" + aggregation.NormalizePeriod(a.Period)
	if dim := normalizeDimension(a.Dimension); dim != "" {
		key += "/" + dim
	}
	return key
}

// canonical reports whether a row is written the way the store writes it today.
func canonical(a storage.StoredAggregate) bool {
	return a.Period == aggregation.NormalizePeriod(a.Period) && a.Dimension == strings.TrimSpace(a.Dimension)
}

// aggregateID is the addressable id of a durable row in reports and purge requests.
func aggregateID(ref storage.AggregateRef) string {
	id := "aggregate:" + ref.Kind + "/" + ref.Period
	if ref.Dimension != "" {
		id += "/" + ref.Dimension
	}
	return id
}
