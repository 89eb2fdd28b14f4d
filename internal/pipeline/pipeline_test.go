package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LJTian/TicketWatch/internal/collector"
	"github.com/LJTian/TicketWatch/internal/processor"
	"github.com/LJTian/TicketWatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOfferFetcher struct {
	offers collector.Offers
	err    error
}

func (f *fakeOfferFetcher) Name() string { return "fake_offers" }

func (f *fakeOfferFetcher) Fetch(context.Context) (collector.Offers, error) {
	return f.offers, f.err
}

type fakeTDFStore struct {
	snapshots   []collector.Offers
	times       []time.Time
	subscribers map[collector.Venue][]string
	latestErr   error
}

func (s *fakeTDFStore) LatestSnapshot(context.Context) (collector.Offers, error) {
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	if len(s.snapshots) == 0 {
		return collector.Offers{}, nil
	}
	return s.snapshots[len(s.snapshots)-1], nil
}

func (s *fakeTDFStore) SaveSnapshot(_ context.Context, o collector.Offers) error {
	s.snapshots = append(s.snapshots, o)
	s.times = append(s.times, time.Now())
	return nil
}

func (s *fakeTDFStore) TitleHistory(_ context.Context, venue collector.Venue, title string) ([]processor.Presence, error) {
	out := make([]processor.Presence, 0, len(s.snapshots))
	for i, snap := range s.snapshots {
		present := false
		for _, t := range snap[venue] {
			if t == title {
				present = true
			}
		}
		out = append(out, processor.Presence{At: s.times[i], Present: present})
	}
	return out, nil
}

func (s *fakeTDFStore) ListSubscribers(_ context.Context, venue collector.Venue, frequency string) ([]string, error) {
	if frequency != storage.FrequencyImmediate {
		return nil, errors.New("unexpected frequency")
	}
	return s.subscribers[venue], nil
}

type sentMail struct {
	venue      collector.Venue
	title      string
	timeline   processor.Timeline
	recipients []string
}

type fakeNotifier struct {
	sent   []sentMail
	failOn string
}

func (n *fakeNotifier) NotifyNewShow(_ context.Context, venue collector.Venue, title string, tl processor.Timeline, recipients []string) error {
	if title == n.failOn {
		return errors.New("smtp down")
	}
	n.sent = append(n.sent, sentMail{venue: venue, title: title, timeline: tl, recipients: recipients})
	return nil
}

func TestTDFRunFirstTimeNotifiesEveryTitle(t *testing.T) {
	store := &fakeTDFStore{subscribers: map[collector.Venue][]string{
		collector.Broadway: {"a@example.com"},
	}}
	n := &fakeNotifier{}
	f := &fakeOfferFetcher{offers: collector.Offers{
		collector.Broadway:    {"Chicago", "Wicked"},
		collector.OffBroadway: {"Stomp"},
	}}

	report, err := NewTDFPipeline(f, store, n).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Changed)
	assert.Equal(t, []string{"Chicago", "Wicked"}, report.Venues[collector.Broadway].New)
	assert.Equal(t, 2, report.EmailsSent)
	require.Len(t, n.sent, 2)
	assert.False(t, n.sent[0].timeline.Seen())
	assert.Equal(t, []string{"a@example.com"}, n.sent[0].recipients)
	require.Len(t, store.snapshots, 1)
}

func TestTDFRunUnchangedStoresNothing(t *testing.T) {
	offers := collector.Offers{collector.Broadway: {"Chicago", "Wicked"}}
	store := &fakeTDFStore{
		snapshots:   []collector.Offers{offers},
		times:       []time.Time{time.Now()},
		subscribers: map[collector.Venue][]string{collector.Broadway: {"a@example.com"}},
	}
	n := &fakeNotifier{}
	f := &fakeOfferFetcher{offers: collector.Offers{collector.Broadway: {"Wicked", "Chicago"}}}

	report, err := NewTDFPipeline(f, store, n).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed)
	assert.Empty(t, n.sent)
	assert.Len(t, store.snapshots, 1)
}

func TestTDFRunRemovalOnlyStillStores(t *testing.T) {
	store := &fakeTDFStore{
		snapshots:   []collector.Offers{{collector.Broadway: {"Chicago", "Wicked"}}},
		times:       []time.Time{time.Now()},
		subscribers: map[collector.Venue][]string{collector.Broadway: {"a@example.com"}},
	}
	n := &fakeNotifier{}
	f := &fakeOfferFetcher{offers: collector.Offers{collector.Broadway: {"Wicked"}}}

	report, err := NewTDFPipeline(f, store, n).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Changed)
	assert.Equal(t, []string{"Chicago"}, report.Venues[collector.Broadway].Removed)
	assert.Empty(t, n.sent)
	assert.Len(t, store.snapshots, 2)
}

func TestTDFRunReturningShowGetsTimeline(t *testing.T) {
	t0 := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeTDFStore{
		snapshots: []collector.Offers{
			{collector.Broadway: {"Chicago"}},
			{collector.Broadway: {"Chicago", "Wicked"}},
			{collector.Broadway: {"Wicked"}},
		},
		times:       []time.Time{t0, t0.Add(24 * time.Hour), t0.Add(72 * time.Hour)},
		subscribers: map[collector.Venue][]string{collector.Broadway: {"a@example.com"}},
	}
	n := &fakeNotifier{}
	f := &fakeOfferFetcher{offers: collector.Offers{collector.Broadway: {"Wicked", "Chicago"}}}

	_, err := NewTDFPipeline(f, store, n).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, n.sent, 1)

	tl := n.sent[0].timeline
	assert.Equal(t, "Chicago", n.sent[0].title)
	assert.Equal(t, t0, tl.RunStart)
	assert.Equal(t, t0.Add(24*time.Hour), tl.LastSeen)
	assert.Equal(t, t0.Add(72*time.Hour), tl.LeftAt)
}

func TestTDFRunNotificationErrorsAreCollected(t *testing.T) {
	store := &fakeTDFStore{subscribers: map[collector.Venue][]string{
		collector.Broadway: {"a@example.com"},
	}}
	n := &fakeNotifier{failOn: "Chicago"}
	f := &fakeOfferFetcher{offers: collector.Offers{collector.Broadway: {"Chicago", "Wicked"}}}

	report, err := NewTDFPipeline(f, store, n).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Equal(t, 1, report.EmailsSent)
	assert.Equal(t, 1, report.EmailErrors)
	assert.Len(t, store.snapshots, 1, "snapshot is stored despite email failures")
}

func TestTDFRunNoSubscribersSendsNothing(t *testing.T) {
	store := &fakeTDFStore{}
	n := &fakeNotifier{}
	f := &fakeOfferFetcher{offers: collector.Offers{collector.OffOffBroadway: {"Basement Play"}}}

	report, err := NewTDFPipeline(f, store, n).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.EmailsSent)
	assert.Empty(t, n.sent)
	assert.Len(t, store.snapshots, 1)
}

func TestTDFRunAbortsWhenLastSnapshotFails(t *testing.T) {
	store := &fakeTDFStore{latestErr: errors.New("db down")}
	n := &fakeNotifier{}
	f := &fakeOfferFetcher{offers: collector.Offers{collector.Broadway: {"Chicago"}}}

	_, err := NewTDFPipeline(f, store, n).Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, n.sent)
	assert.Empty(t, store.snapshots)
}

func TestTDFRunFetchError(t *testing.T) {
	f := &fakeOfferFetcher{err: errors.New("timeout")}
	_, err := NewTDFPipeline(f, &fakeTDFStore{}, &fakeNotifier{}).Run(context.Background())
	assert.ErrorContains(t, err, "timeout")
}

type fakeBoardFetcher struct {
	board collector.Board
}

func (f *fakeBoardFetcher) Name() string { return "fake_board" }

func (f *fakeBoardFetcher) Fetch(context.Context) (collector.Board, error) {
	return f.board, nil
}

type fakeTKTSStore struct {
	shows     map[string]uint
	discounts []storage.Discount
	patches   map[uint]processor.ListingPatch
	booths    []collector.BoothStatus
	forgotten []string
}

func newFakeTKTSStore() *fakeTKTSStore {
	return &fakeTKTSStore{shows: map[string]uint{}, patches: map[uint]processor.ListingPatch{}}
}

func (s *fakeTKTSStore) EnsureShow(_ context.Context, name string, _ bool) (uint, error) {
	if id, ok := s.shows[name]; ok {
		return id, nil
	}
	id := uint(len(s.shows) + 1)
	s.shows[name] = id
	return id, nil
}

func (s *fakeTKTSStore) ListDiscountsForDates(_ context.Context, dates []string) ([]storage.Discount, error) {
	var out []storage.Discount
	for _, d := range s.discounts {
		for _, date := range dates {
			if d.PerformanceDate == date {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (s *fakeTKTSStore) CreateDiscount(_ context.Context, showID uint, l collector.Listing, now time.Time) (*storage.Discount, error) {
	name := ""
	for n, id := range s.shows {
		if id == showID {
			name = n
		}
	}
	d := storage.Discount{
		ID:              uint(len(s.discounts) + 100),
		ShowID:          showID,
		Show:            storage.Show{ID: showID, Name: name},
		DiscountPercent: l.DiscountPercent,
		LowPrice:        l.LowPrice,
		HighPrice:       l.HighPrice,
		PerformanceDate: l.PerformanceDate,
		PerformanceTime: l.PerformanceTime,
		IsMatinee:       l.IsMatinee,
		LastAvailableAt: &now,
	}
	s.discounts = append(s.discounts, d)
	return &d, nil
}

func (s *fakeTKTSStore) ApplyDiscountPatch(_ context.Context, id uint, patch processor.ListingPatch) error {
	s.patches[id] = patch
	return nil
}

func (s *fakeTKTSStore) ForgetDiscounts(_ context.Context, dates []string) {
	s.forgotten = append(s.forgotten, dates...)
}

func (s *fakeTKTSStore) AddBoothLog(_ context.Context, status collector.BoothStatus) error {
	s.booths = append(s.booths, status)
	return nil
}

func price(v float64) *float64 { return &v }

func TestTKTSRunReconciles(t *testing.T) {
	now := time.Date(2025, 8, 20, 19, 0, 0, 0, time.UTC)
	store := newFakeTKTSStore()
	store.shows["Chicago"] = 1
	store.shows["Wicked"] = 2
	store.shows["Old Show"] = 3
	store.discounts = []storage.Discount{
		{ID: 10, ShowID: 1, Show: storage.Show{ID: 1, Name: "Chicago"}, DiscountPercent: 40, LowPrice: price(80), HighPrice: price(120), PerformanceDate: "2025-08-20", IsMatinee: false},
		{ID: 11, ShowID: 2, Show: storage.Show{ID: 2, Name: "Wicked"}, DiscountPercent: 30, LowPrice: price(99), HighPrice: price(150), PerformanceDate: "2025-08-20", IsMatinee: false},
		{ID: 12, ShowID: 3, Show: storage.Show{ID: 3, Name: "Old Show"}, DiscountPercent: 50, PerformanceDate: "2025-08-20", IsMatinee: true},
	}

	board := collector.Board{
		Status: collector.BoothStatus{TimesSquareOpen: true},
		Listings: []collector.Listing{
			// better terms than stored
			{Title: "Chicago", DiscountPercent: 50, LowPrice: price(70), HighPrice: price(110), PerformanceDate: "2025-08-20", PerformanceTime: "20:00:00", OnBroadway: true},
			// same terms
			{Title: "Wicked", DiscountPercent: 30, LowPrice: price(99), HighPrice: price(150), PerformanceDate: "2025-08-20", PerformanceTime: "19:00:00", OnBroadway: true},
			// brand new show
			{Title: " Stomp ", DiscountPercent: 40, LowPrice: price(50), HighPrice: price(60), PerformanceDate: "2025-08-21", PerformanceTime: "14:00:00", IsMatinee: true},
			// duplicate of Stomp from the other booth
			{Title: "Stomp", DiscountPercent: 50, LowPrice: price(55), HighPrice: price(60), PerformanceDate: "2025-08-21", PerformanceTime: "14:00:00", IsMatinee: true},
		},
	}

	p := NewTKTSPipeline(&fakeBoardFetcher{board: board}, processor.NewSimpleProcessor(), store)
	p.now = func() time.Time { return now }

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Listings)
	assert.Equal(t, 3, report.Shows)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Improved)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 1, report.Gone)

	chicago := store.patches[10]
	require.NotNil(t, chicago.DiscountPercent)
	assert.Equal(t, 50.0, *chicago.DiscountPercent)
	assert.Equal(t, 70.0, *chicago.LowPrice)
	assert.Nil(t, chicago.HighPrice, "high price only rises")
	assert.Equal(t, now, chicago.LastAvailableAt)

	wicked := store.patches[11]
	assert.False(t, wicked.Improved())
	assert.Equal(t, now, wicked.LastAvailableAt)

	_, touched := store.patches[12]
	assert.False(t, touched, "slots gone from the board are left alone")

	created := store.discounts[len(store.discounts)-1]
	assert.Equal(t, "Stomp", created.Show.Name)
	assert.Equal(t, 50.0, created.DiscountPercent)
	assert.Equal(t, 50.0, *created.LowPrice)

	assert.ElementsMatch(t, []string{"2025-08-20", "2025-08-21"}, store.forgotten)

	require.Len(t, store.booths, 1)
	assert.True(t, store.booths[0].TimesSquareOpen)
	assert.False(t, store.booths[0].LincolnCenterOpen)
}

func TestTKTSRunBothBoothsClosed(t *testing.T) {
	store := newFakeTKTSStore()
	p := NewTKTSPipeline(&fakeBoardFetcher{}, processor.NewSimpleProcessor(), store)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	require.Len(t, store.booths, 1)
	assert.Equal(t, collector.BoothStatus{}, store.booths[0])
	assert.Empty(t, store.shows)
}
