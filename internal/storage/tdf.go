package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/LJTian/TicketWatch/internal/collector"
	"github.com/LJTian/TicketWatch/internal/processor"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// TDFSnapshot is one observation of the show finder. A row is written only
// when some venue's title set changed, so consecutive rows always differ.
type TDFSnapshot struct {
	ID             uint                        `gorm:"primaryKey" json:"id"`
	Broadway       datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"broadway"`
	OffBroadway    datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"offBroadway"`
	OffOffBroadway datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"offOffBroadway"`
	CreatedAt      time.Time                   `gorm:"index" json:"createdAt"`
}

func (TDFSnapshot) TableName() string { return "tdf_snapshots" }

const (
	FrequencyImmediate = "immediate"
	FrequencyDaily     = "daily"
)

// TDFSubscriber opts in to new-show emails per venue.
type TDFSubscriber struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Email          string `gorm:"size:320;uniqueIndex" json:"email"`
	Broadway       bool   `json:"broadway"`
	OffBroadway    bool   `json:"offBroadway"`
	OffOffBroadway bool   `json:"offOffBroadway"`
	EmailVerified  bool   `gorm:"index" json:"emailVerified"`
	Frequency      string `gorm:"size:32;index" json:"frequency"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (TDFSubscriber) TableName() string { return "tdf_subscribers" }

// venueColumns whitelists the column names derived from a venue; both the
// snapshot and subscriber tables use the same names.
var venueColumns = map[collector.Venue]string{
	collector.Broadway:       "broadway",
	collector.OffBroadway:    "off_broadway",
	collector.OffOffBroadway: "off_off_broadway",
}

func venueColumn(v collector.Venue) (string, error) {
	col, ok := venueColumns[v]
	if !ok {
		return "", fmt.Errorf("storage: unknown venue %q", v)
	}
	return col, nil
}

// SnapshotFromOffers converts scraped offers to a row, storing missing venues
// as empty arrays rather than null.
func SnapshotFromOffers(o collector.Offers) TDFSnapshot {
	list := func(v collector.Venue) datatypes.JSONSlice[string] {
		out := make([]string, 0, len(o[v]))
		for _, title := range o[v] {
			out = append(out, toValidUTF8(title))
		}
		return datatypes.JSONSlice[string](out)
	}
	return TDFSnapshot{
		Broadway:       list(collector.Broadway),
		OffBroadway:    list(collector.OffBroadway),
		OffOffBroadway: list(collector.OffOffBroadway),
	}
}

// Offers converts the row back to per-venue title lists.
func (s TDFSnapshot) Offers() collector.Offers {
	return collector.Offers{
		collector.Broadway:       []string(s.Broadway),
		collector.OffBroadway:    []string(s.OffBroadway),
		collector.OffOffBroadway: []string(s.OffOffBroadway),
	}
}

const latestSnapshotCacheKey = "tdf:snapshot:latest"

// SaveSnapshot appends the offers as a new snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, offers collector.Offers) error {
	snap := SnapshotFromOffers(offers)
	if err := s.DB.WithContext(ctx).Create(&snap).Error; err != nil {
		return fmt.Errorf("storage: save tdf snapshot: %w", err)
	}
	s.forget(ctx, latestSnapshotCacheKey)
	return nil
}

// LatestSnapshot returns the offers of the newest snapshot, or empty offers
// when none has been stored yet. It always reads the database.
func (s *Store) LatestSnapshot(ctx context.Context) (collector.Offers, error) {
	snap, err := s.latestSnapshotRow(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return collector.Offers{}, nil
	}
	return snap.Offers(), nil
}

// LatestTDFSnapshot is the cached variant of LatestSnapshot used by the API.
// It returns nil when nothing is stored.
func (s *Store) LatestTDFSnapshot(ctx context.Context) (*TDFSnapshot, error) {
	return cached(ctx, s.Redis, latestSnapshotCacheKey, listCacheTTL, func() (*TDFSnapshot, error) {
		return s.latestSnapshotRow(ctx)
	})
}

func (s *Store) latestSnapshotRow(ctx context.Context) (*TDFSnapshot, error) {
	var rows []TDFSnapshot
	err := s.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: latest tdf snapshot: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// TitleHistory reports, for every stored snapshot in chronological order,
// whether title was listed under venue.
func (s *Store) TitleHistory(ctx context.Context, venue collector.Venue, title string) ([]processor.Presence, error) {
	col, err := venueColumn(venue)
	if err != nil {
		return nil, err
	}
	needle, err := json.Marshal([]string{title})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		CreatedAt time.Time
		Present   bool
	}
	err = s.DB.WithContext(ctx).
		Model(&TDFSnapshot{}).
		Select("created_at, COALESCE("+col+" @> ?::jsonb, false) AS present", string(needle)).
		Order("created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: title history for %q: %w", title, err)
	}

	out := make([]processor.Presence, 0, len(rows))
	for _, r := range rows {
		out = append(out, processor.Presence{At: r.CreatedAt, Present: r.Present})
	}
	return out, nil
}

// ListSubscribers returns the verified addresses subscribed to venue. An
// empty frequency matches every frequency.
func (s *Store) ListSubscribers(ctx context.Context, venue collector.Venue, frequency string) ([]string, error) {
	col, err := venueColumn(venue)
	if err != nil {
		return nil, err
	}

	q := s.DB.WithContext(ctx).Model(&TDFSubscriber{}).
		Where(col+" = ?", true).
		Where("email_verified = ?", true).
		Where("email <> ''")
	if frequency != "" {
		q = q.Where("frequency = ?", frequency)
	}

	var emails []string
	if err := q.Order("id").Pluck("email", &emails).Error; err != nil {
		return nil, fmt.Errorf("storage: list %s subscribers: %w", venue, err)
	}
	return emails, nil
}

// UpsertSubscriber creates or replaces the subscription for sub.Email.
func (s *Store) UpsertSubscriber(ctx context.Context, sub TDFSubscriber) error {
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	if sub.Email == "" {
		return fmt.Errorf("storage: subscriber email is required")
	}
	if sub.Frequency == "" {
		sub.Frequency = FrequencyImmediate
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"broadway", "off_broadway", "off_off_broadway", "email_verified", "frequency", "updated_at"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("storage: upsert subscriber: %w", err)
	}
	return nil
}
