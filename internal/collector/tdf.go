package collector

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const tdfShowFinderURL = "https://www.tdf.org/on-stage/show-finder/?page=1&pageSize=100&tdfMembership=true&venueId=%d"

// DefaultTDFURLs are the member show-finder pages, one per venue.
var DefaultTDFURLs = map[Venue]string{
	Broadway:       fmt.Sprintf(tdfShowFinderURL, 1),
	OffBroadway:    fmt.Sprintf(tdfShowFinderURL, 2),
	OffOffBroadway: fmt.Sprintf(tdfShowFinderURL, 3),
}

// show cards carry the title only in the poster's alt text
const tdfPosterSelector = "img.to-be-scaled.img-el"

// TDFFetcher scrapes the titles currently offered to TDF members.
type TDFFetcher struct {
	URLs    map[Venue]string
	Timeout time.Duration
}

func NewTDFFetcher(timeout time.Duration) *TDFFetcher {
	return &TDFFetcher{URLs: DefaultTDFURLs, Timeout: timeout}
}

func (f *TDFFetcher) Name() string {
	return "tdf_offers"
}

func (f *TDFFetcher) Fetch(ctx context.Context) (Offers, error) {
	offers := make(Offers, len(Venues))
	for _, venue := range Venues {
		u, ok := f.URLs[venue]
		if !ok {
			continue
		}
		titles, err := f.fetchVenue(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("tdf: fetch %s: %w", venue, err)
		}
		zap.S().Debugf("tdf: %s lists %d shows", venue, len(titles))
		offers[venue] = titles
	}
	return offers, nil
}

func (f *TDFFetcher) fetchVenue(ctx context.Context, pageURL string) ([]string, error) {
	c := newCollector(ctx, f.Timeout)

	var titles []string
	c.OnHTML("html", func(e *colly.HTMLElement) {
		titles = posterTitles(e.DOM)
	})

	if err := visit(ctx, c, pageURL); err != nil {
		return nil, err
	}
	return titles, nil
}

// ParseOffers extracts show titles from a saved show-finder page.
func ParseOffers(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("tdf: parse html: %w", err)
	}
	return posterTitles(doc.Selection), nil
}

func posterTitles(root *goquery.Selection) []string {
	titles := make([]string, 0, 32)
	root.Find(tdfPosterSelector).Each(func(_ int, s *goquery.Selection) {
		alt, ok := s.Attr("alt")
		if !ok {
			return
		}
		alt = CleanTitle(alt)
		if alt == "" {
			return
		}
		titles = append(titles, alt)
	})
	return lo.Uniq(titles)
}
