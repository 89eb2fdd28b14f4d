package processor

import (
	"fmt"
	"time"
)

// Presence says whether an item was in the snapshot taken at At.
type Presence struct {
	At      time.Time
	Present bool
}

// Timeline is what the snapshot history says about one item's last run.
// Zero times mean unknown.
type Timeline struct {
	RunStart time.Time // first snapshot of the most recent run
	LastSeen time.Time // last snapshot that contained the item
	LeftAt   time.Time // first snapshot after LastSeen without the item
}

// Seen reports whether the item appears anywhere in the history.
func (t Timeline) Seen() bool {
	return !t.LastSeen.IsZero()
}

// Left reports whether the item is known to have dropped off after LastSeen.
func (t Timeline) Left() bool {
	return !t.LeftAt.IsZero()
}

// Stayed is how long the most recent run lasted: from the first snapshot of
// the run to the first snapshot without the item. This is the "stayed on TDF
// for" figure in the new-show email, so it spans the whole run rather than
// only the gap between the last sighting and the departure.
func (t Timeline) Stayed() time.Duration {
	if !t.Left() {
		return 0
	}
	return t.LeftAt.Sub(t.RunStart)
}

// Absent is how long the item has been gone as of now.
func (t Timeline) Absent(now time.Time) time.Duration {
	if !t.Left() || now.Before(t.LeftAt) {
		return 0
	}
	return now.Sub(t.LeftAt)
}

// BuildTimeline derives the item's timeline from its presence in each
// snapshot. history must be in chronological order.
func BuildTimeline(history []Presence) Timeline {
	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Present {
			last = i
			break
		}
	}
	if last < 0 {
		return Timeline{}
	}

	tl := Timeline{LastSeen: history[last].At}

	start := last
	for start > 0 && history[start-1].Present {
		start--
	}
	tl.RunStart = history[start].At

	if last+1 < len(history) {
		tl.LeftAt = history[last+1].At
	}
	return tl
}

// HumanizeDuration renders d in its largest whole unit, from weeks down to
// seconds, e.g. "3 weeks" or "1 hour".
func HumanizeDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d / (24 * time.Hour))
	switch {
	case days >= 7:
		return plural(days/7, "week")
	case days > 0:
		return plural(days, "day")
	case d >= time.Hour:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
