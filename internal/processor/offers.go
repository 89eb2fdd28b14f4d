package processor

import "github.com/LJTian/TicketWatch/internal/collector"

// OfferDiff is the per-venue title classification of two TDF snapshots.
type OfferDiff map[collector.Venue]Diff[string, string]

// DiffOffers compares the current TDF offers against the last stored ones.
// Titles are compared as sets, so reordering on the page is not a change.
func DiffOffers(current, last collector.Offers) OfferDiff {
	out := make(OfferDiff, len(collector.Venues))
	for _, venue := range collector.Venues {
		out[venue] = Classify(current[venue], last[venue], identity[string], identity[string], nil)
	}
	return out
}

// HasChanges reports whether any venue gained or lost a title.
func (d OfferDiff) HasChanges() bool {
	for _, diff := range d {
		if !diff.Empty() {
			return true
		}
	}
	return false
}

// HasNew reports whether any venue gained a title.
func (d OfferDiff) HasNew() bool {
	for _, diff := range d {
		if len(diff.New) > 0 {
			return true
		}
	}
	return false
}

func (d OfferDiff) NewTitles(venue collector.Venue) []string {
	return d[venue].New
}

func (d OfferDiff) RemovedTitles(venue collector.Venue) []string {
	return d[venue].Removed
}
