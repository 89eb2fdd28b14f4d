package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LJTian/TicketWatch/internal/collector"
	"github.com/LJTian/TicketWatch/internal/processor"
)

// Show is a production seen on the TKTS board.
type Show struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"size:256;uniqueIndex" json:"name"`
	IsBroadway *bool  `json:"isBroadway"`

	CreatedAt time.Time `json:"createdAt"`
}

// Discount is one performance slot of a show. A slot is identified by show,
// date and matinee flag; its terms only ever improve as the board updates.
type Discount struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ShowID          uint       `gorm:"uniqueIndex:idx_discount_slot;not null" json:"showId"`
	Show            Show       `gorm:"foreignKey:ShowID" json:"show"`
	DiscountPercent float64    `json:"discountPercent"`
	LowPrice        *float64   `json:"lowPrice"`
	HighPrice       *float64   `json:"highPrice"`
	PerformanceDate string     `gorm:"size:10;uniqueIndex:idx_discount_slot;index" json:"performanceDate"`
	PerformanceTime string     `gorm:"size:8" json:"performanceTime"`
	IsMatinee       bool       `gorm:"uniqueIndex:idx_discount_slot" json:"isMatinee"`
	LastAvailableAt *time.Time `json:"lastAvailableAt"`

	CreatedAt time.Time `json:"createdAt"`
}

// BoothLog records which booths were open on each TKTS run.
type BoothLog struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TimesSquareOpen   bool      `json:"timesSquareOpen"`
	LincolnCenterOpen bool      `json:"lincolnCenterOpen"`
	CreatedAt         time.Time `gorm:"index" json:"createdAt"`
}

// Key returns the reconciliation key; Show must be loaded.
func (d Discount) Key() processor.ListingKey {
	return processor.ListingKey{Title: d.Show.Name, Date: d.PerformanceDate, Matinee: d.IsMatinee}
}

func (d Discount) State() processor.ListingState {
	return processor.ListingState{DiscountPercent: d.DiscountPercent, LowPrice: d.LowPrice, HighPrice: d.HighPrice}
}

func (d Discount) StatRecord() processor.StatRecord {
	return processor.StatRecord{
		DiscountPercent: d.DiscountPercent,
		LowPrice:        d.LowPrice,
		HighPrice:       d.HighPrice,
		IsMatinee:       d.IsMatinee,
	}
}

// EnsureShow returns the id of the show called name, creating it if needed.
func (s *Store) EnsureShow(ctx context.Context, name string, onBroadway bool) (uint, error) {
	name = truncateRunesDB(toValidUTF8(name), collector.TitleMaxRunes)
	show := Show{}
	err := s.DB.WithContext(ctx).
		Where(Show{Name: name}).
		Attrs(Show{IsBroadway: &onBroadway}).
		FirstOrCreate(&show).Error
	if err != nil {
		return 0, fmt.Errorf("storage: ensure show %q: %w", name, err)
	}
	return show.ID, nil
}

// ListDiscountsForDates loads every stored slot on the given dates together
// with its show.
func (s *Store) ListDiscountsForDates(ctx context.Context, dates []string) ([]Discount, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	var list []Discount
	err := s.DB.WithContext(ctx).
		Preload("Show").
		Where("performance_date IN ?", dates).
		Order("id").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list discounts: %w", err)
	}
	return list, nil
}

// CreateDiscount inserts a newly seen slot as available at now.
func (s *Store) CreateDiscount(ctx context.Context, showID uint, l collector.Listing, now time.Time) (*Discount, error) {
	d := &Discount{
		ShowID:          showID,
		DiscountPercent: l.DiscountPercent,
		LowPrice:        l.LowPrice,
		HighPrice:       l.HighPrice,
		PerformanceDate: l.PerformanceDate,
		PerformanceTime: l.PerformanceTime,
		IsMatinee:       l.IsMatinee,
		LastAvailableAt: &now,
	}
	if err := s.DB.WithContext(ctx).Omit("Show").Create(d).Error; err != nil {
		return nil, fmt.Errorf("storage: create discount for %q on %s: %w", l.Title, l.PerformanceDate, err)
	}
	return d, nil
}

// ApplyDiscountPatch writes the non-nil fields of patch to discount id.
func (s *Store) ApplyDiscountPatch(ctx context.Context, id uint, patch processor.ListingPatch) error {
	updates := map[string]any{
		"last_available_at": patch.LastAvailableAt,
	}
	if patch.DiscountPercent != nil {
		updates["discount_percent"] = *patch.DiscountPercent
	}
	if patch.LowPrice != nil {
		updates["low_price"] = *patch.LowPrice
	}
	if patch.HighPrice != nil {
		updates["high_price"] = *patch.HighPrice
	}
	err := s.DB.WithContext(ctx).Model(&Discount{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("storage: update discount %d: %w", id, err)
	}
	return nil
}

// AddBoothLog appends the booth status of a run.
func (s *Store) AddBoothLog(ctx context.Context, status collector.BoothStatus) error {
	entry := BoothLog{TimesSquareOpen: status.TimesSquareOpen, LincolnCenterOpen: status.LincolnCenterOpen}
	if err := s.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("storage: add booth log: %w", err)
	}
	s.forget(ctx, latestBoothCacheKey)
	return nil
}

const latestBoothCacheKey = "tkts:booths:latest"

// LatestBoothLog returns the newest booth log, or nil.
func (s *Store) LatestBoothLog(ctx context.Context) (*BoothLog, error) {
	return cached(ctx, s.Redis, latestBoothCacheKey, listCacheTTL, func() (*BoothLog, error) {
		var rows []BoothLog
		if err := s.DB.WithContext(ctx).Order("created_at DESC").Limit(1).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("storage: latest booth log: %w", err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return &rows[0], nil
	})
}

func discountsCacheKey(date string) string {
	return fmt.Sprintf("tkts:discounts:%s", date)
}

// ForgetDiscounts drops the cached discount lists of dates after a
// reconcile has written to them.
func (s *Store) ForgetDiscounts(ctx context.Context, dates []string) {
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, discountsCacheKey(d))
	}
	s.forget(ctx, keys...)
}

// ListDiscounts returns the slots for one performance date, best discount
// first, using the Redis cache.
func (s *Store) ListDiscounts(ctx context.Context, date string) ([]Discount, error) {
	return cached(ctx, s.Redis, discountsCacheKey(date), listCacheTTL, func() ([]Discount, error) {
		var list []Discount
		err := s.DB.WithContext(ctx).
			Preload("Show").
			Where("performance_date = ?", date).
			Order("discount_percent DESC").
			Order("performance_time ASC").
			Find(&list).Error
		if err != nil {
			return nil, fmt.Errorf("storage: list discounts for %s: %w", date, err)
		}
		return list, nil
	})
}

// SearchShows finds shows whose name contains term, ignoring case.
func (s *Store) SearchShows(ctx context.Context, term string) ([]Show, error) {
	term = strings.TrimSpace(term)
	var list []Show
	q := s.DB.WithContext(ctx).Order("name ASC").Limit(100)
	if term != "" {
		q = q.Where("name ILIKE ?", "%"+escapeLike(term)+"%")
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("storage: search shows %q: %w", term, err)
	}
	return list, nil
}

// DiscountsByShow returns every stored slot of a show.
func (s *Store) DiscountsByShow(ctx context.Context, showID uint) ([]Discount, error) {
	var list []Discount
	err := s.DB.WithContext(ctx).
		Where("show_id = ?", showID).
		Order("performance_date DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("storage: discounts for show %d: %w", showID, err)
	}
	return list, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
