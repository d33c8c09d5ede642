package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/homedesign/portal-gateway/internal/domain"
	"github.com/homedesign/portal-gateway/internal/observability"
)

type sessionRow struct {
	SID       string     `gorm:"column:sid;primaryKey;size:64"`
	Token     string     `gorm:"size:2048;not null"`
	User      []byte     `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "gateway_sessions" }

// GormStore persists sessions in a relational database, one row per session
// so both values commit in a single statement. SQLite serves single-box
// deployments, Postgres multi-instance ones.
type GormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate session table: %w", err)
	}
	return &GormStore{db: db}, nil
}

// OpenGormStore picks the driver from the DSN: anything starting with
// "postgres" goes through pgx, everything else is treated as a SQLite path.
func OpenGormStore(dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	if len(dsn) >= 8 && dsn[:8] == "postgres" {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	return NewGormStore(db)
}

func (s *GormStore) Get(ctx context.Context, sid string) (*Record, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("sid = ? AND (expires_at IS NULL OR expires_at > ?)", sid, time.Now().UTC()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordSessionStoreOperation(ctx, "gorm", "get", "not_found")
			return nil, domain.ErrSessionNotFound
		}
		observability.RecordSessionStoreOperation(ctx, "gorm", "get", "error")
		return nil, err
	}
	observability.RecordSessionStoreOperation(ctx, "gorm", "get", "success")
	return &Record{Token: row.Token, User: row.User}, nil
}

func (s *GormStore) Put(ctx context.Context, sid string, rec Record, ttl time.Duration) error {
	row := sessionRow{SID: sid, Token: rec.Token, User: rec.User}
	if ttl > 0 {
		expiresAt := time.Now().UTC().Add(ttl)
		row.ExpiresAt = &expiresAt
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sid"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		observability.RecordSessionStoreOperation(ctx, "gorm", "put", "error")
		return err
	}
	observability.RecordSessionStoreOperation(ctx, "gorm", "put", "success")
	return nil
}

func (s *GormStore) Delete(ctx context.Context, sid string) error {
	err := s.db.WithContext(ctx).Where("sid = ?", sid).Delete(&sessionRow{}).Error
	if err != nil {
		observability.RecordSessionStoreOperation(ctx, "gorm", "delete", "error")
		return err
	}
	observability.RecordSessionStoreOperation(ctx, "gorm", "delete", "success")
	return nil
}

// CleanupExpired removes rows whose TTL elapsed. Run periodically from the
// serve loop.
func (s *GormStore) CleanupExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now().UTC()).
		Delete(&sessionRow{})
	if res.Error != nil {
		observability.RecordSessionStoreOperation(ctx, "gorm", "cleanup", "error")
		return 0, res.Error
	}
	observability.RecordSessionStoreOperation(ctx, "gorm", "cleanup", "success")
	return res.RowsAffected, nil
}
