package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fieldsync/internal/errs"
	"fieldsync/internal/infrastructure/persistence/sqlite/model"
	"fieldsync/internal/ports"
)

// SQLiteKV stores sync-journal entries next to the response queue so both
// survive restarts together.
type SQLiteKV struct {
	db *gorm.DB
}

var _ ports.KV = (*SQLiteKV)(nil)

func NewSQLiteKV(db *gorm.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

func (c *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	trimmed, err := checkKey(ctx, key)
	if err != nil {
		return "", false, err
	}

	var row model.SyncKV
	if err := c.db.WithContext(ctx).Where("key = ?", trimmed).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err, "query kv by key")
	}
	return row.Value, true, nil
}

func (c *SQLiteKV) Set(ctx context.Context, key string, value string) error {
	trimmed, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	row := model.SyncKV{
		Key:       trimmed,
		Value:     value,
		UpdatedAt: time.Now().UnixMilli(),
	}

	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert kv key")
	}
	return nil
}

func (c *SQLiteKV) Delete(ctx context.Context, key string) error {
	trimmed, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	if err := c.db.WithContext(ctx).Where("key = ?", trimmed).Delete(&model.SyncKV{}).Error; err != nil {
		return errs.Wrap(err, "delete kv key")
	}
	return nil
}

func checkKey(ctx context.Context, key string) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, "check context")
	}

	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("key is required")
	}
	return trimmed, nil
}
