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

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
)

type matchRow struct {
	ID           string       `gorm:"primaryKey;size:16"`
	ControllerID string       `gorm:"index;not null"`
	Status       string       `gorm:"size:16;not null"`
	State        engine.State `gorm:"serializer:json;type:jsonb;not null"`
	Members      []Member     `gorm:"serializer:json;type:jsonb;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (matchRow) TableName() string { return "matches" }

type commentRow struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	MatchID   string    `gorm:"index;size:16;not null"`
	CommentID string    `gorm:"size:64;not null"`
	User      string    `gorm:"not null"`
	Message   string    `gorm:"not null"`
	Timestamp time.Time `gorm:"not null"`
}

func (commentRow) TableName() string { return "match_comments" }

// Postgres persists matches through gorm. Match state and members are stored
// as JSON documents; comments live in their own append-only table.
type Postgres struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if err := p.db.WithContext(ctx).AutoMigrate(&matchRow{}, &commentRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) LoadSession(ctx context.Context, id string) (Record, error) {
	var row matchRow
	err := p.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, apperr.ErrSessionNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load match %s: %w", id, err)
	}

	var comments []commentRow
	if err := p.db.WithContext(ctx).
		Where("match_id = ?", id).
		Order("seq ASC").
		Find(&comments).Error; err != nil {
		return Record{}, fmt.Errorf("load comments %s: %w", id, err)
	}

	rec := Record{
		ID:           row.ID,
		ControllerID: row.ControllerID,
		State:        row.State,
		Members:      row.Members,
	}
	rec.State.Comments = make([]engine.Comment, 0, len(comments))
	for _, c := range comments {
		rec.State.Comments = append(rec.State.Comments, engine.Comment{
			ID:        c.CommentID,
			User:      c.User,
			Message:   c.Message,
			Timestamp: c.Timestamp,
		})
	}
	return rec, nil
}

func (p *Postgres) SaveSession(ctx context.Context, rec Record) error {
	state := engine.Clone(rec.State)
	state.Comments = nil
	members := rec.Members
	if members == nil {
		members = []Member{}
	}
	row := matchRow{
		ID:           rec.ID,
		ControllerID: rec.ControllerID,
		Status:       string(state.Status),
		State:        state,
		Members:      members,
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "state", "members", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save match %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) DeleteSession(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("match_id = ?", id).Delete(&commentRow{}).Error; err != nil {
			return fmt.Errorf("delete comments %s: %w", id, err)
		}
		if err := tx.Where("id = ?", id).Delete(&matchRow{}).Error; err != nil {
			return fmt.Errorf("delete match %s: %w", id, err)
		}
		return nil
	})
}

func (p *Postgres) AppendComment(ctx context.Context, id string, c engine.Comment) error {
	var n int64
	if err := p.db.WithContext(ctx).Model(&matchRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("append comment %s: %w", id, err)
	}
	if n == 0 {
		return apperr.ErrSessionNotFound
	}
	row := commentRow{
		MatchID:   id,
		CommentID: c.ID,
		User:      c.User,
		Message:   c.Message,
		Timestamp: c.Timestamp,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append comment %s: %w", id, err)
	}
	return nil
}
