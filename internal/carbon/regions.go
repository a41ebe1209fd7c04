package carbon

import (
	"fmt"
	"strings"

	"github.com/example/ride-rewards/internal/models"
)

// MaxRegionCodeLen bounds region codes to what the token program stores.
const MaxRegionCodeLen = 10

// RegionTable keeps region entries in insertion order with unique codes.
// Lookups are a linear scan. Not safe for concurrent use.
type RegionTable struct {
	entries []models.RegionEntry
	max     int
}

func NewRegionTable(max int) *RegionTable { return &RegionTable{max: max} }

func NormalizeRegionCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidRegionCode
	}
	if len(code) > MaxRegionCodeLen {
		return "", fmt.Errorf("%w: %q", ErrRegionCodeTooLong, code)
	}
	return code, nil
}

func (t *RegionTable) index(code string) int {
	for i := range t.entries {
		if t.entries[i].Code == code {
			return i
		}
	}
	return -1
}

// Lookup matches codes the way Upsert stores them, surrounding space ignored.
func (t *RegionTable) Lookup(code string) (models.RegionEntry, bool) {
	if i := t.index(strings.TrimSpace(code)); i >= 0 {
		return t.entries[i], true
	}
	return models.RegionEntry{}, false
}

// Upsert replaces an existing entry in place or appends a new one. It
// returns a function that undoes the change.
func (t *RegionTable) Upsert(e models.RegionEntry) (undo func(), err error) {
	if i := t.index(e.Code); i >= 0 {
		prev := t.entries[i]
		t.entries[i] = e
		return func() { t.entries[i] = prev }, nil
	}
	if t.max > 0 && len(t.entries) >= t.max {
		return nil, fmt.Errorf("%w: limit %d", ErrMaxRegionsExceeded, t.max)
	}
	t.entries = append(t.entries, e)
	return func() { t.entries = t.entries[:len(t.entries)-1] }, nil
}

func (t *RegionTable) Snapshot() []models.RegionEntry {
	return append([]models.RegionEntry(nil), t.entries...)
}
