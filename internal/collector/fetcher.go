package collector

import (
	"context"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/gocolly/colly/v2"
)

// Venue is a TDF show-finder category.
type Venue string

const (
	Broadway       Venue = "broadway"
	OffBroadway    Venue = "off_broadway"
	OffOffBroadway Venue = "off_off_broadway"
)

// Venues lists every venue in a fixed order.
var Venues = []Venue{Broadway, OffBroadway, OffOffBroadway}

// Valid reports whether v is one of Venues.
func (v Venue) Valid() bool {
	for _, known := range Venues {
		if v == known {
			return true
		}
	}
	return false
}

// Offers holds the show titles currently listed for each venue.
type Offers map[Venue][]string

// Listing is one row of the TKTS board.
type Listing struct {
	Title           string
	DiscountPercent float64
	LowPrice        *float64
	HighPrice       *float64
	PerformanceTime string // 15:04:05
	PerformanceDate string // 2006-01-02, US/Eastern
	IsMatinee       bool
	OnBroadway      bool
	Booth           string
}

// BoothStatus records which TKTS booths were open when the board was read.
type BoothStatus struct {
	TimesSquareOpen   bool
	LincolnCenterOpen bool
}

// Board is everything parsed from a single download of the TKTS page.
type Board struct {
	Listings []Listing
	Status   BoothStatus
}

// OfferFetcher reads the TDF show finder.
type OfferFetcher interface {
	Name() string
	Fetch(ctx context.Context) (Offers, error)
}

// BoardFetcher reads the TKTS live board.
type BoardFetcher interface {
	Name() string
	Fetch(ctx context.Context) (Board, error)
}

const userAgent = "TicketWatchBot/1.0"

// Eastern is the timezone both source pages are published in.
var Eastern *time.Location

func init() {
	var err error
	// tzdata is embedded, so this only fails on a typo
	if Eastern, err = time.LoadLocation("America/New_York"); err != nil {
		panic(err)
	}
}

// TitleMaxRunes matches the width of the shows.name column.
const TitleMaxRunes = 256

// CleanTitle normalizes a scraped title to the form the store keeps, so a
// title compares equal to its stored copy on the next run.
func CleanTitle(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.Join(strings.Fields(s), " ")
	if rs := []rune(s); len(rs) > TitleMaxRunes {
		s = strings.TrimSpace(string(rs[:TitleMaxRunes]))
	}
	return s
}

func newCollector(ctx context.Context, timeout time.Duration) *colly.Collector {
	c := colly.NewCollector(colly.UserAgent(userAgent))
	if timeout > 0 {
		c.SetRequestTimeout(timeout)
	}
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	return c
}

// visit fetches pageURL unless ctx is already done. colly has no context
// plumbing of its own, so a cancelled ctx aborts before the request is sent.
func visit(ctx context.Context, c *colly.Collector, pageURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Visit(pageURL); err != nil {
		return err
	}
	return ctx.Err()
}
