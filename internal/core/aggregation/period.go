package aggregation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Grain is the calendar unit of a period.
type Grain string

const (
	GrainYear  Grain = "year"
	GrainMonth Grain = "month"
	GrainDay   Grain = "day"
)

const pageSeparator = ":p"

// Period is a calendar-bounded slice of the log, optionally narrowed to one
// listing page. Start is always UTC midnight on the grain boundary.
type Period struct {
	Grain Grain
	Start time.Time
	Page  int // 1-based; 0 for non-listing periods
}

// ParsePeriod parses "2024", "2024-03", "2024-03-15" and page tokens such as
// "2024-03-15:p3".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, fmt.Errorf("%w: period must not be empty", ErrInvalidPeriod)
	}

	base, page := s, 0
	if idx := strings.Index(s, pageSeparator); idx >= 0 {
		base = s[:idx]
		n, err := strconv.Atoi(s[idx+len(pageSeparator):])
		if err != nil || n <= 0 {
			return Period{}, fmt.Errorf("%w: invalid page in %q", ErrInvalidPeriod, s)
		}
		page = n
	}

	var (
		layout string
		grain  Grain
	)
	switch len(base) {
	case 4:
		layout, grain = "2006", GrainYear
	case 7:
		layout, grain = "2006-01", GrainMonth
	case 10:
		layout, grain = "2006-01-02", GrainDay
	default:
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}

	start, err := time.ParseInLocation(layout, base, time.UTC)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q: %v", ErrInvalidPeriod, s, err)
	}
	return Period{Grain: grain, Start: start, Page: page}, nil
}

// MustParsePeriod is ParsePeriod for literals known to be valid.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// End returns the exclusive upper bound of the period.
func (p Period) End() time.Time {
	switch p.Grain {
	case GrainYear:
		return p.Start.AddDate(1, 0, 0)
	case GrainMonth:
		return p.Start.AddDate(0, 1, 0)
	default:
		return p.Start.AddDate(0, 0, 1)
	}
}

// IsPage reports whether the period addresses a single listing page.
func (p Period) IsPage() bool {
	return p.Page > 0
}

// WithoutPage returns the calendar period a page token belongs to.
func (p Period) WithoutPage() Period {
	p.Page = 0
	return p
}

// String renders the canonical form accepted by ParsePeriod.
func (p Period) String() string {
	var base string
	switch p.Grain {
	case GrainYear:
		base = p.Start.Format("2006")
	case GrainMonth:
		base = p.Start.Format("2006-01")
	default:
		base = p.Start.Format("2006-01-02")
	}
	if p.Page > 0 {
		return base + pageSeparator + strconv.Itoa(p.Page)
	}
	return base
}

// NormalizePeriod canonicalizes loosely written periods ("2024-3-5", " 2024-03 ")
// so rows written under non-canonical spellings group with their canonical twin.
// Unparseable input is returned trimmed and lowercased.
func NormalizePeriod(s string) string {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if p, err := ParsePeriod(trimmed); err == nil {
		return p.String()
	}

	base, suffix := trimmed, ""
	if idx := strings.Index(trimmed, pageSeparator); idx >= 0 {
		base, suffix = trimmed[:idx], trimmed[idx:]
	}
	parts := strings.Split(base, "-")
	if len(parts) == 0 || len(parts) > 3 {
		return trimmed
	}
	nums := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return trimmed
		}
		nums[i] = n
	}
	var canonical string
	switch len(nums) {
	case 1:
		canonical = fmt.Sprintf("%04d", nums[0])
	case 2:
		canonical = fmt.Sprintf("%04d-%02d", nums[0], nums[1])
	default:
		canonical = fmt.Sprintf("%04d-%02d-%02d", nums[0], nums[1], nums[2])
	}
	if p, err := ParsePeriod(canonical + suffix); err == nil {
		return p.String()
	}
	return trimmed
}
