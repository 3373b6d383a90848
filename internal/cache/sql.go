package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/flowstream/config"
	"github.com/BaSui01/flowstream/internal/database"
	"github.com/BaSui01/flowstream/internal/migration"
)

// =============================================================================
// 🗄️ SQLStore
// =============================================================================

// statusRow maps Status onto the message_results table.
type statusRow struct {
	MessageID  string            `gorm:"column:message_id;primaryKey"`
	State      string            `gorm:"column:state"`
	Attributes map[string]string `gorm:"column:attributes;serializer:json"`
	ErrorCode  string            `gorm:"column:error_code"`
	Error      string            `gorm:"column:error"`
	DurationMS int64             `gorm:"column:duration_ms"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime:false"`
	ExpiresAt  *time.Time        `gorm:"column:expires_at"`
}

func (statusRow) TableName() string { return "message_results" }

// putRetries bounds WithTransactionRetry for a single status write.
const putRetries = 3

// SQLStore keeps statuses in a relational database through GORM. The schema
// is owned by the migration package. Expired rows are hidden from Get at
// once and deleted by a periodic purge.
type SQLStore struct {
	pool   *database.PoolManager
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewSQLStore stores statuses through pool. A positive purgeInterval starts
// a background purge of expired rows.
func NewSQLStore(pool *database.PoolManager, ttl, purgeInterval time.Duration, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{
		pool:   pool,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "result_store")),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if purgeInterval > 0 && ttl > 0 {
		go s.purgeLoop(purgeInterval)
	} else {
		close(s.done)
	}
	return s
}

func (s *SQLStore) Put(ctx context.Context, st Status) error {
	if s.closed.Load() {
		return ErrClosed
	}
	now := s.now().UTC()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = now
	}
	row := statusRow{
		MessageID:  st.MessageID,
		State:      string(st.State),
		Attributes: st.Attributes,
		ErrorCode:  st.ErrorCode,
		Error:      st.Error,
		DurationMS: st.DurationMS,
		UpdatedAt:  st.UpdatedAt.UTC(),
	}
	if s.ttl > 0 {
		expires := now.Add(s.ttl)
		row.ExpiresAt = &expires
	}

	err := s.pool.WithTransactionRetry(ctx, putRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
	if err != nil {
		s.logger.Error("status write failed", zap.String("message_id", st.MessageID), zap.Error(err))
		return fmt.Errorf("status write failed: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, messageID string) (*Status, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var row statusRow
	err := s.pool.DB().WithContext(ctx).Where("message_id = ?", messageID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("status read failed", zap.String("message_id", messageID), zap.Error(err))
		return nil, fmt.Errorf("status read failed: %w", err)
	}
	if row.ExpiresAt != nil && !s.now().Before(*row.ExpiresAt) {
		return nil, ErrNotFound
	}

	return &Status{
		MessageID:  row.MessageID,
		State:      State(row.State),
		Attributes: row.Attributes,
		ErrorCode:  row.ErrorCode,
		Error:      row.Error,
		DurationMS: row.DurationMS,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	res := s.pool.DB().WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
		Delete(&statusRow{})
	return res.RowsAffected, res.Error
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.pool.Ping(ctx)
}

// Close stops the purge loop and closes the pool. It is idempotent.
func (s *SQLStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		<-s.done
		err = s.pool.Close()
	})
	return err
}

func (s *SQLStore) purgeLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := s.Purge(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("expired status purge failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Debug("purged expired statuses", zap.Int64("rows", n))
			}
		}
	}
}

// openSQL migrates the schema when asked to and opens a pooled connection.
// SQLite is limited to a single connection so concurrent dispatches queue
// instead of failing with "database is locked".
func openSQL(cfg config.ResultsConfig, logger *zap.Logger) (*SQLStore, error) {
	if cfg.AutoMigrate {
		m, err := migration.NewMigratorFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("results schema migration failed: %w", err)
		}
		upErr := m.Up(context.Background())
		if err := errors.Join(upErr, m.Close()); err != nil {
			return nil, fmt.Errorf("results schema migration failed: %w", err)
		}
	}

	db, err := database.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	poolCfg := database.DefaultPoolConfig()
	if cfg.PoolSize > 0 {
		poolCfg.MaxOpenConns = cfg.PoolSize
		poolCfg.MaxIdleConns = min(poolCfg.MaxIdleConns, cfg.PoolSize)
	}
	if cfg.Driver == "sqlite" {
		poolCfg.MaxOpenConns, poolCfg.MaxIdleConns = 1, 1
	}
	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return NewSQLStore(pool, cfg.TTL, time.Minute, logger), nil
}
