package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const DefaultTKTSURL = "https://www.tdf.org/discount-ticket-programs/tkts-by-tdf/tkts-live/?tab=TimesSquare"

const (
	BoothTimesSquare   = "Times Square"
	BoothLincolnCenter = "Lincoln Center"
)

type booth struct {
	name     string
	idPrefix string
}

var tktsBooths = []booth{
	{name: BoothTimesSquare, idPrefix: "TimesSquare"},
	{name: BoothLincolnCenter, idPrefix: "LincolnCenter"},
}

// boardSection describes one table on a booth tab.
type boardSection struct {
	idSuffix   string
	nextDay    bool
	onBroadway bool
	header     bool
}

var tktsSections = []boardSection{
	{idSuffix: "-broadway-shows", onBroadway: true, header: true},
	{idSuffix: "-off-broadway-shows", onBroadway: false, header: true},
	{idSuffix: "-next-day-matinee-broadway-shows", nextDay: true, onBroadway: true},
	{idSuffix: "-next-day-matinee-off-broadway-shows", nextDay: true, onBroadway: false},
}

// TKTSFetcher downloads the TKTS live board.
type TKTSFetcher struct {
	URL     string
	Timeout time.Duration
	Now     func() time.Time
}

func NewTKTSFetcher(timeout time.Duration) *TKTSFetcher {
	return &TKTSFetcher{URL: DefaultTKTSURL, Timeout: timeout, Now: time.Now}
}

func (f *TKTSFetcher) Name() string {
	return "tkts_board"
}

func (f *TKTSFetcher) Fetch(ctx context.Context) (Board, error) {
	c := newCollector(ctx, f.Timeout)

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	if err := visit(ctx, c, f.URL); err != nil {
		return Board{}, fmt.Errorf("tkts: fetch board: %w", err)
	}
	if len(body) == 0 {
		return Board{}, errors.New("tkts: empty response body")
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return ParseBoard(body, now())
}

// ParseBoard extracts listings and booth status from the TKTS page. now
// decides which dates the today and next-day tables refer to.
func ParseBoard(html []byte, now time.Time) (Board, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Board{}, fmt.Errorf("tkts: parse html: %w", err)
	}

	raw := string(html)
	today := now.In(Eastern)
	board := Board{
		Status: BoothStatus{
			TimesSquareOpen:   !BoothClosed(raw, BoothTimesSquare),
			LincolnCenterOpen: !BoothClosed(raw, BoothLincolnCenter),
		},
	}

	for _, b := range tktsBooths {
		if BoothClosed(raw, b.name) {
			zap.S().Infof("tkts: %s booth is closed", b.name)
			continue
		}
		for _, sec := range tktsSections {
			date := today
			if sec.nextDay {
				date = today.AddDate(0, 0, 1)
			}
			board.Listings = append(board.Listings, parseSection(doc, b, sec, date.Format("2006-01-02"))...)
		}
	}
	return board, nil
}

// BoothClosed reports whether the page announces the named booth as closed.
func BoothClosed(html, boothName string) bool {
	return strings.Contains(html, fmt.Sprintf(`The %s booth is currently <span class="underlined">closed</span>`, boothName))
}

func parseSection(doc *goquery.Document, b booth, sec boardSection, date string) []Listing {
	divID := b.idPrefix + sec.idSuffix
	div := doc.Find("div#" + divID)
	if div.Length() == 0 {
		zap.S().Debugf("tkts: no data found for %s", divID)
		return nil
	}

	var out []Listing
	div.Find("table").First().Find("tr").Each(func(i int, row *goquery.Selection) {
		if sec.header && i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() != 4 {
			return
		}
		l, err := parseRow(
			strings.TrimSpace(cells.Eq(0).Text()),
			strings.TrimSpace(cells.Eq(1).Text()),
			strings.TrimSpace(cells.Eq(2).Text()),
			strings.TrimSpace(cells.Eq(3).Text()),
		)
		if err != nil {
			zap.S().Warnf("tkts: skip row in %s: %v", divID, err)
			return
		}
		l.PerformanceDate = date
		l.OnBroadway = sec.onBroadway
		l.Booth = b.name
		out = append(out, l)
	})
	return out
}

func parseRow(timeText, discountText, priceText, titleText string) (Listing, error) {
	perf, err := ParsePerformanceTime(timeText)
	if err != nil {
		return Listing{}, err
	}
	discount, err := ParseDiscount(discountText)
	if err != nil {
		return Listing{}, err
	}
	low, high, err := ParsePriceRange(priceText)
	if err != nil {
		return Listing{}, err
	}
	title := CleanTitle(strings.ReplaceAll(titleText, `"`, ""))
	if title == "" {
		return Listing{}, errors.New("empty title")
	}

	return Listing{
		Title:           title,
		DiscountPercent: discount,
		LowPrice:        low,
		HighPrice:       high,
		PerformanceTime: perf.Format("15:04:05"),
		IsMatinee:       perf.Hour() < 16, // noon counts as a matinee
	}, nil
}

// ParsePerformanceTime parses board times such as "2:00 PM" or "11:00AM".
func ParsePerformanceTime(s string) (time.Time, error) {
	compact := strings.ToUpper(strings.Join(strings.Fields(s), ""))
	t, err := time.Parse("3:04PM", compact)
	if err != nil {
		return time.Time{}, fmt.Errorf("performance time %q: %w", s, err)
	}
	return t, nil
}

// ParseDiscount parses "50%" into 50.
func ParseDiscount(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "%", ""))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("discount %q: %w", s, err)
	}
	return v, nil
}

// ParsePriceRange parses "$59 - $129" or "$49". A missing side is nil; a
// single value fills both sides.
func ParsePriceRange(s string) (low, high *float64, err error) {
	s = strings.NewReplacer("---", "-", "--", "-", "–", "-", "—", "-").Replace(s)
	if !strings.Contains(s, "-") {
		v, err := parsePrice(s)
		if err != nil || v == nil {
			return nil, nil, err
		}
		h := *v
		return v, &h, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if low, err = parsePrice(parts[0]); err != nil {
		return nil, nil, err
	}
	if high, err = parsePrice(parts[1]); err != nil {
		return nil, nil, err
	}
	return low, high, nil
}

func parsePrice(s string) (*float64, error) {
	s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(s))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", s, err)
	}
	return &v, nil
}
