package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/LJTian/TicketWatch/internal/collector"
	"github.com/LJTian/TicketWatch/internal/processor"
	"github.com/LJTian/TicketWatch/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Store is the read side of the record store.
type Store interface {
	Ping(ctx context.Context) error
	LatestTDFSnapshot(ctx context.Context) (*storage.TDFSnapshot, error)
	ListDiscounts(ctx context.Context, date string) ([]storage.Discount, error)
	SearchShows(ctx context.Context, term string) ([]storage.Show, error)
	DiscountsByShow(ctx context.Context, showID uint) ([]storage.Discount, error)
	LatestBoothLog(ctx context.Context) (*storage.BoothLog, error)
}

type Server struct {
	store Store
	now   func() time.Time
}

func NewServer(store Store) *Server {
	return &Server{store: store, now: time.Now}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tdf/latest", s.latestTDF)
		v1.GET("/tkts/discounts", s.listDiscounts)
		v1.GET("/tkts/shows", s.searchShows)
		v1.GET("/tkts/shows/:id/stats", s.showStats)
		v1.GET("/tkts/booths", s.latestBooths)
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		zap.S().Warnf("api: health db ping: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}

func (s *Server) latestTDF(c *gin.Context) {
	snap, err := s.store.LatestTDFSnapshot(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	if snap == nil {
		fail(c, http.StatusNotFound, "not_found", "no snapshot stored yet")
		return
	}
	ok(c, snap)
}

// listDiscounts defaults to today's board in New York.
func (s *Server) listDiscounts(c *gin.Context) {
	date := c.DefaultQuery("date", s.now().In(collector.Eastern).Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", "date must be YYYY-MM-DD")
		return
	}

	list, err := s.store.ListDiscounts(c.Request.Context(), date)
	if err != nil {
		internalError(c, err)
		return
	}
	if list == nil {
		list = []storage.Discount{}
	}
	ok(c, list)
}

func (s *Server) searchShows(c *gin.Context) {
	shows, err := s.store.SearchShows(c.Request.Context(), c.Query("q"))
	if err != nil {
		internalError(c, err)
		return
	}
	if shows == nil {
		shows = []storage.Show{}
	}
	ok(c, shows)
}

func (s *Server) showStats(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "invalid_argument", "id must be a positive integer")
		return
	}

	var filter func(processor.StatRecord) bool
	switch c.Query("matinee") {
	case "":
	case "true":
		filter = processor.MatineeOnly
	case "false":
		filter = processor.EveningOnly
	default:
		fail(c, http.StatusBadRequest, "invalid_argument", "matinee must be true or false")
		return
	}

	list, err := s.store.DiscountsByShow(c.Request.Context(), uint(id))
	if err != nil {
		internalError(c, err)
		return
	}
	records := lo.Map(list, func(d storage.Discount, _ int) processor.StatRecord { return d.StatRecord() })
	ok(c, processor.Averages(records, filter))
}

func (s *Server) latestBooths(c *gin.Context) {
	entry, err := s.store.LatestBoothLog(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	if entry == nil {
		fail(c, http.StatusNotFound, "not_found", "no booth status recorded yet")
		return
	}
	ok(c, entry)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

func internalError(c *gin.Context, err error) {
	zap.S().Errorf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
}
