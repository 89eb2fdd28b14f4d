package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/TicketWatch/internal/collector"
	"github.com/LJTian/TicketWatch/internal/processor"
	"github.com/LJTian/TicketWatch/internal/storage"
	"go.uber.org/zap"
)

// TDFStore is the part of the record store the TDF pipeline needs.
type TDFStore interface {
	LatestSnapshot(ctx context.Context) (collector.Offers, error)
	SaveSnapshot(ctx context.Context, offers collector.Offers) error
	TitleHistory(ctx context.Context, venue collector.Venue, title string) ([]processor.Presence, error)
	ListSubscribers(ctx context.Context, venue collector.Venue, frequency string) ([]string, error)
}

// Notifier announces a newly listed show.
type Notifier interface {
	NotifyNewShow(ctx context.Context, venue collector.Venue, title string, tl processor.Timeline, recipients []string) error
}

// VenueReport counts what changed for one venue.
type VenueReport struct {
	New     []string `json:"new"`
	Removed []string `json:"removed"`
}

type TDFReport struct {
	Changed     bool                            `json:"changed"`
	Venues      map[collector.Venue]VenueReport `json:"venues"`
	EmailsSent  int                             `json:"emailsSent"`
	EmailErrors int                             `json:"emailErrors"`
}

// TDFPipeline emails subscribers about shows that appeared on the TDF show
// finder since the last stored snapshot.
type TDFPipeline struct {
	fetcher  collector.OfferFetcher
	store    TDFStore
	notifier Notifier
}

func NewTDFPipeline(f collector.OfferFetcher, store TDFStore, n Notifier) *TDFPipeline {
	return &TDFPipeline{fetcher: f, store: store, notifier: n}
}

func (p *TDFPipeline) Name() string { return "tdf" }

// Run performs one diff-and-notify cycle. Notification failures do not stop
// the run; they are returned joined together after the snapshot is stored.
func (p *TDFPipeline) Run(ctx context.Context) (TDFReport, error) {
	report := TDFReport{Venues: make(map[collector.Venue]VenueReport, len(collector.Venues))}
	start := time.Now()

	current, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("tdf: fetch %s: %w", p.fetcher.Name(), err)
	}
	last, err := p.store.LatestSnapshot(ctx)
	if err != nil {
		return report, fmt.Errorf("tdf: load last snapshot: %w", err)
	}

	diff := processor.DiffOffers(current, last)
	for _, venue := range collector.Venues {
		report.Venues[venue] = VenueReport{New: diff.NewTitles(venue), Removed: diff.RemovedTitles(venue)}
	}
	if !diff.HasChanges() {
		zap.S().Infof("tdf: offers are the same (%s)", time.Since(start))
		return report, nil
	}
	report.Changed = true

	// timelines must be read before the new snapshot lands
	var errs []error
	for _, venue := range collector.Venues {
		titles := diff.NewTitles(venue)
		if len(titles) == 0 {
			continue
		}
		sent, err := p.notifyVenue(ctx, venue, titles)
		report.EmailsSent += sent
		if err != nil {
			errs = append(errs, err)
		}
	}
	report.EmailErrors = len(errs)

	if err := p.store.SaveSnapshot(ctx, current); err != nil {
		return report, errors.Join(append(errs, fmt.Errorf("tdf: save snapshot: %w", err))...)
	}

	for _, venue := range collector.Venues {
		v := report.Venues[venue]
		zap.S().Infof("tdf: %s new=%d removed=%d", venue, len(v.New), len(v.Removed))
	}
	zap.S().Infof("tdf: done, emails=%d errors=%d (%s)", report.EmailsSent, report.EmailErrors, time.Since(start))
	return report, errors.Join(errs...)
}

func (p *TDFPipeline) notifyVenue(ctx context.Context, venue collector.Venue, titles []string) (int, error) {
	recipients, err := p.store.ListSubscribers(ctx, venue, storage.FrequencyImmediate)
	if err != nil {
		return 0, fmt.Errorf("tdf: subscribers for %s: %w", venue, err)
	}
	if len(recipients) == 0 {
		zap.S().Infof("tdf: %d new %s titles, no subscribers", len(titles), venue)
		return 0, nil
	}

	var (
		sent int
		errs []error
	)
	for _, title := range titles {
		history, err := p.store.TitleHistory(ctx, venue, title)
		if err != nil {
			errs = append(errs, fmt.Errorf("tdf: history of %q: %w", title, err))
			continue
		}
		tl := processor.BuildTimeline(history)
		if err := p.notifier.NotifyNewShow(ctx, venue, title, tl, recipients); err != nil {
			zap.S().Errorf("tdf: notify %q: %v", title, err)
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
