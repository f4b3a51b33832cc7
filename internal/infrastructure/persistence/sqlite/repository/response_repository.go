package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fieldsync/internal/domain/survey"
	"fieldsync/internal/errs"
	"fieldsync/internal/infrastructure/persistence/sqlite/model"
	"fieldsync/internal/ports"
)

type ResponseRepository struct {
	db *gorm.DB
}

var _ ports.ResponseRepository = (*ResponseRepository)(nil)

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

func (r *ResponseRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *ResponseRepository) InsertOrReplace(ctx context.Context, resp survey.Response) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row, err := toRow(resp)
	if err != nil {
		return err
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert response")
	}
	return nil
}

func (r *ResponseRepository) GetByID(ctx context.Context, id string) (survey.Response, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return survey.Response{}, err
	}

	var row model.Response
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return survey.Response{}, ports.ErrResponseNotFound
		}
		return survey.Response{}, errs.Wrap(err, "query response")
	}
	return fromRow(row)
}

func (r *ResponseRepository) ListPending(ctx context.Context) ([]survey.Response, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Response
	if err := db.
		Where("status IN ?", []string{string(survey.StatusPending), string(survey.StatusFailedRetryable)}).
		Order("created_at asc, id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query pending responses")
	}

	items := make([]survey.Response, 0, len(rows))
	for _, row := range rows {
		resp, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, resp)
	}
	return items, nil
}

func (r *ResponseRepository) UpdateStatus(ctx context.Context, id string, status survey.Status, retryCount int, lastAttemptAt int64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Response{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          string(status),
			"retry_count":     retryCount,
			"last_attempt_at": lastAttemptAt,
		}).Error; err != nil {
		return errs.Wrap(err, "update response status")
	}
	return nil
}

func (r *ResponseRepository) MarkSynced(ctx context.Context, id string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	// Status and media paths move together so a synced row can never
	// still reference on-device media.
	if err := db.Model(&model.Response{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           string(survey.StatusSynced),
			"media_paths_json": "[]",
		}).Error; err != nil {
		return errs.Wrap(err, "mark response synced")
	}
	return nil
}

func (r *ResponseRepository) DeleteSyncedBefore(ctx context.Context, cutoff int64) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	result := db.
		Where("status = ? AND created_at < ?", string(survey.StatusSynced), cutoff).
		Delete(&model.Response{})
	if result.Error != nil {
		return 0, errs.Wrap(result.Error, "delete synced responses")
	}
	return result.RowsAffected, nil
}

func (r *ResponseRepository) Count(ctx context.Context) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&model.Response{}).Count(&count).Error; err != nil {
		return 0, errs.Wrap(err, "count responses")
	}
	return count, nil
}

func (r *ResponseRepository) CountByStatus(ctx context.Context) (map[survey.Status]int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status string
		Total  int64
	}
	if err := db.Model(&model.Response{}).
		Select("status, count(*) as total").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "count responses by status")
	}

	counts := make(map[survey.Status]int64, len(rows))
	for _, row := range rows {
		counts[survey.Status(row.Status)] = row.Total
	}
	return counts, nil
}

func toRow(resp survey.Response) (model.Response, error) {
	paths := resp.MediaPaths
	if paths == nil {
		paths = []string{}
	}
	encoded, err := json.Marshal(paths)
	if err != nil {
		return model.Response{}, errs.Wrap(err, "encode media paths")
	}

	return model.Response{
		ID:             resp.ID,
		FarmerID:       resp.FarmerID,
		CreatedAt:      resp.CreatedAt,
		AnswersJSON:    resp.AnswersJSON,
		Status:         string(resp.Status),
		RetryCount:     resp.RetryCount,
		LastAttemptAt:  resp.LastAttemptAt,
		MediaPathsJSON: string(encoded),
	}, nil
}

func fromRow(row model.Response) (survey.Response, error) {
	var paths []string
	if row.MediaPathsJSON != "" {
		if err := json.Unmarshal([]byte(row.MediaPathsJSON), &paths); err != nil {
			return survey.Response{}, errs.Wrapf(err, "decode media paths for response %s", row.ID)
		}
	}

	return survey.Response{
		ID:            row.ID,
		FarmerID:      row.FarmerID,
		CreatedAt:     row.CreatedAt,
		AnswersJSON:   row.AnswersJSON,
		Status:        survey.Status(row.Status),
		RetryCount:    row.RetryCount,
		LastAttemptAt: row.LastAttemptAt,
		MediaPaths:    paths,
	}, nil
}
