package processor

import (
	"strings"
	"time"

	"github.com/LJTian/TicketWatch/internal/collector"
)

// ListingKey identifies one performance slot of a show. Both booths may list
// the same slot; it is still a single discount record.
type ListingKey struct {
	Title   string
	Date    string
	Matinee bool
}

func KeyOf(l collector.Listing) ListingKey {
	return ListingKey{Title: l.Title, Date: l.PerformanceDate, Matinee: l.IsMatinee}
}

// SimpleProcessor cleans scraped listings before reconciliation.
type SimpleProcessor struct{}

func NewSimpleProcessor() *SimpleProcessor {
	return &SimpleProcessor{}
}

// Process trims titles, drops empty ones and collapses listings that share a
// ListingKey, keeping the best terms seen for the slot.
func (p *SimpleProcessor) Process(items []collector.Listing) []collector.Listing {
	out := make([]collector.Listing, 0, len(items))
	index := make(map[ListingKey]int)

	for _, it := range items {
		it.Title = strings.TrimSpace(it.Title)
		if it.Title == "" {
			continue
		}
		k := KeyOf(it)
		if i, ok := index[k]; ok {
			out[i] = bestTerms(out[i], it)
			continue
		}
		index[k] = len(out)
		out = append(out, it)
	}
	return out
}

func bestTerms(a, b collector.Listing) collector.Listing {
	if b.DiscountPercent > a.DiscountPercent {
		a.DiscountPercent = b.DiscountPercent
	}
	if lower(b.LowPrice, a.LowPrice) {
		a.LowPrice = b.LowPrice
	}
	if higher(b.HighPrice, a.HighPrice) {
		a.HighPrice = b.HighPrice
	}
	return a
}

// ListingState is the stored side of a discount record as far as the
// reconciliation rules care.
type ListingState struct {
	DiscountPercent float64
	LowPrice        *float64
	HighPrice       *float64
}

// ListingPatch lists the columns to write back to a pre-existing record.
// Nil fields are left alone.
type ListingPatch struct {
	LastAvailableAt time.Time
	DiscountPercent *float64
	LowPrice        *float64
	HighPrice       *float64
}

// Improved reports whether any price or discount term changed.
func (p ListingPatch) Improved() bool {
	return p.DiscountPercent != nil || p.LowPrice != nil || p.HighPrice != nil
}

// MergeListing applies the update rules for a slot that is already stored:
// the slot is marked available at now, the discount only ever rises, the low
// price only ever falls and the high price only ever rises.
func MergeListing(prev ListingState, cur collector.Listing, now time.Time) ListingPatch {
	patch := ListingPatch{LastAvailableAt: now}
	if cur.DiscountPercent > prev.DiscountPercent {
		v := cur.DiscountPercent
		patch.DiscountPercent = &v
	}
	if lower(cur.LowPrice, prev.LowPrice) {
		v := *cur.LowPrice
		patch.LowPrice = &v
	}
	if higher(cur.HighPrice, prev.HighPrice) {
		v := *cur.HighPrice
		patch.HighPrice = &v
	}
	return patch
}

// lower reports whether candidate should replace stored as a low price.
func lower(candidate, stored *float64) bool {
	if candidate == nil {
		return false
	}
	return stored == nil || *candidate < *stored
}

// higher reports whether candidate should replace stored as a high price.
func higher(candidate, stored *float64) bool {
	if candidate == nil {
		return false
	}
	return stored == nil || *candidate > *stored
}
