package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/LJTian/TicketWatch/internal/collector"
	"github.com/LJTian/TicketWatch/internal/processor"
	"github.com/LJTian/TicketWatch/internal/storage"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// TKTSStore is the part of the record store the TKTS pipeline needs.
type TKTSStore interface {
	EnsureShow(ctx context.Context, name string, onBroadway bool) (uint, error)
	ListDiscountsForDates(ctx context.Context, dates []string) ([]storage.Discount, error)
	CreateDiscount(ctx context.Context, showID uint, l collector.Listing, now time.Time) (*storage.Discount, error)
	ApplyDiscountPatch(ctx context.Context, id uint, patch processor.ListingPatch) error
	AddBoothLog(ctx context.Context, status collector.BoothStatus) error
	ForgetDiscounts(ctx context.Context, dates []string)
}

type TKTSReport struct {
	Listings  int                   `json:"listings"`
	Shows     int                   `json:"shows"`
	Created   int                   `json:"created"`
	Improved  int                   `json:"improved"`
	Refreshed int                   `json:"refreshed"`
	Gone      int                   `json:"gone"`
	Booths    collector.BoothStatus `json:"booths"`
}

// TKTSPipeline folds the live TKTS board into the discount history.
type TKTSPipeline struct {
	fetcher   collector.BoardFetcher
	processor *processor.SimpleProcessor
	store     TKTSStore
	now       func() time.Time
}

func NewTKTSPipeline(f collector.BoardFetcher, p *processor.SimpleProcessor, store TKTSStore) *TKTSPipeline {
	return &TKTSPipeline{fetcher: f, processor: p, store: store, now: time.Now}
}

func (p *TKTSPipeline) Name() string { return "tkts" }

// Run performs one reconciliation. Slots no longer on the board are kept as
// history and only counted.
func (p *TKTSPipeline) Run(ctx context.Context) (TKTSReport, error) {
	var report TKTSReport
	start := time.Now()

	board, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("tkts: fetch %s: %w", p.fetcher.Name(), err)
	}
	report.Booths = board.Status
	now := p.now()

	listings := p.processor.Process(board.Listings)
	report.Listings = len(listings)

	showIDs := make(map[string]uint)
	for _, l := range listings {
		if _, ok := showIDs[l.Title]; ok {
			continue
		}
		id, err := p.store.EnsureShow(ctx, l.Title, l.OnBroadway)
		if err != nil {
			return report, fmt.Errorf("tkts: %w", err)
		}
		showIDs[l.Title] = id
	}
	report.Shows = len(showIDs)

	dates := lo.Uniq(lo.Map(listings, func(l collector.Listing, _ int) string { return l.PerformanceDate }))
	stored, err := p.store.ListDiscountsForDates(ctx, dates)
	if err != nil {
		return report, fmt.Errorf("tkts: %w", err)
	}

	diff := processor.Classify(listings, stored, processor.KeyOf, storage.Discount.Key,
		func(cur collector.Listing, prev storage.Discount) bool {
			return processor.MergeListing(prev.State(), cur, now).Improved()
		})

	for _, l := range diff.New {
		if _, err := p.store.CreateDiscount(ctx, showIDs[l.Title], l, now); err != nil {
			return report, fmt.Errorf("tkts: %w", err)
		}
		report.Created++
	}
	for _, m := range diff.Changed {
		patch := processor.MergeListing(m.Previous.State(), m.Current, now)
		if err := p.store.ApplyDiscountPatch(ctx, m.Previous.ID, patch); err != nil {
			return report, fmt.Errorf("tkts: %w", err)
		}
		report.Improved++
	}
	for _, m := range diff.Unchanged {
		if err := p.store.ApplyDiscountPatch(ctx, m.Previous.ID, processor.ListingPatch{LastAvailableAt: now}); err != nil {
			return report, fmt.Errorf("tkts: %w", err)
		}
		report.Refreshed++
	}
	report.Gone = len(diff.Removed)
	p.store.ForgetDiscounts(ctx, dates)

	if err := p.store.AddBoothLog(ctx, board.Status); err != nil {
		return report, fmt.Errorf("tkts: %w", err)
	}

	zap.S().Infof("tkts: done, listings=%d created=%d improved=%d refreshed=%d gone=%d times_square=%t lincoln_center=%t (%s)",
		report.Listings, report.Created, report.Improved, report.Refreshed, report.Gone,
		board.Status.TimesSquareOpen, board.Status.LincolnCenterOpen, time.Since(start))
	return report, nil
}
