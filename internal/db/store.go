package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyProcessed is returned by SaveAll when another commit for the
// same file won the race. Nothing from the losing call is persisted.
var ErrAlreadyProcessed = errors.New("file already processed")

const insertBatchSize = 200

// Store persists consolidated page metrics together with the ledger.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Exists reports whether filePath has a ledger entry.
func (s *Store) Exists(ctx context.Context, filePath string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ProcessedFile{}).
		Where("file_path = ?", filePath).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveAll writes the ledger entry and every record in one transaction.
// The ledger row goes first so that a concurrent commit of the same file
// is detected before any record is inserted.
func (s *Store) SaveAll(ctx context.Context, records []PageMetric, entry *ProcessedFile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_path"}},
			DoNothing: true,
		}).Create(entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyProcessed
		}

		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, insertBatchSize).Error
	})
}

// MetricFilter narrows ListMetrics. Zero values are ignored.
type MetricFilter struct {
	Site       string
	Page       string
	Project    string
	ReportDate *time.Time
	Limit      int
}

// ListMetrics returns committed page metrics, most viewed first.
func (s *Store) ListMetrics(ctx context.Context, f MetricFilter) ([]PageMetric, error) {
	q := s.db.WithContext(ctx).Model(&PageMetric{})
	if f.Site != "" {
		q = q.Where("site = ?", f.Site)
	}
	if f.Page != "" {
		q = q.Where("page = ?", f.Page)
	}
	if f.Project != "" {
		q = q.Where("project = ?", f.Project)
	}
	if f.ReportDate != nil {
		q = q.Where("report_date = ?", *f.ReportDate)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var out []PageMetric
	err := q.Order("page_views DESC").Order("id").Limit(limit).Find(&out).Error
	return out, err
}

// ListProcessed returns ledger entries, newest first.
func (s *Store) ListProcessed(ctx context.Context, site string, limit int) ([]ProcessedFile, error) {
	q := s.db.WithContext(ctx).Model(&ProcessedFile{})
	if site != "" {
		q = q.Where("site = ?", site)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var out []ProcessedFile
	err := q.Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}
