package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStore connects to Postgres, migrates the schema and attaches the Redis
// read cache. An unreachable Redis is tolerated; reads fall back to the DB.
func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}

	if err := db.AutoMigrate(&TDFSnapshot{}, &TDFSubscriber{}, &Show{}, &Discount{}, &BoothLog{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zap.S().Warnf("storage: redis ping failed: %v", err)
		}
	}

	return NewStoreWithDB(db, rdb), nil
}

// NewStoreWithDB wraps already-open connections; rdb may be nil.
func NewStoreWithDB(db *gorm.DB, rdb *redis.Client) *Store {
	return &Store{DB: db, Redis: rdb}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// toValidUTF8 keeps scraped text from tripping Postgres' encoding checks.
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB cuts s to at most limit runes so it fits a varchar column.
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
