package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sessionRow is the persisted form of a Session.
type sessionRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Address   string `gorm:"not null"`
	Ticket    string `gorm:"not null"`
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "reconnection_sessions" }

type Gorm struct {
	db *gorm.DB
}

var _ Store = (*Gorm)(nil)

func OpenGorm(ctx context.Context, dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return NewGorm(ctx, db)
}

// NewGorm wraps an existing handle and migrates the sessions table.
func NewGorm(ctx context.Context, db *gorm.DB) (*Gorm, error) {
	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Read(ctx context.Context, id string) (Session, bool, error) {
	var row sessionRow
	err := g.db.WithContext(ctx).Where("session_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("store: read %q: %w", id, err)
	}

	s := Session{ID: row.SessionID, Address: row.Address, Ticket: row.Ticket}
	if !s.Valid() {
		return Session{}, false, nil
	}
	return s, true, nil
}

func (g *Gorm) Write(ctx context.Context, s Session) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSession, s.ID)
	}
	row := sessionRow{SessionID: s.ID, Address: s.Address, Ticket: s.Ticket}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"address", "ticket", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: write %q: %w", s.ID, err)
	}
	return nil
}

func (g *Gorm) Clear(ctx context.Context, id string) error {
	if err := g.db.WithContext(ctx).Where("session_id = ?", id).Delete(&sessionRow{}).Error; err != nil {
		return fmt.Errorf("store: clear %q: %w", id, err)
	}
	return nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
