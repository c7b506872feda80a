package db

import (
	"time"

	"gorm.io/datatypes"
)

// PageMetric is one consolidated page row for one report period, produced
// from exactly one export file. Rows are written once, together with the
// ProcessedFile entry for SourceFile, and never updated afterwards.
type PageMetric struct {
	ID uint `gorm:"primaryKey"`

	// Version is the optimistic-lock counter. This service never updates a
	// committed row, so it stays 0.
	Version int `gorm:"not null;default:0"`

	CreatedAt time.Time

	ReportDate time.Time `gorm:"type:date;not null;uniqueIndex:idx_page_metric_unique,priority:3;index"`
	Site       string    `gorm:"size:255;not null;uniqueIndex:idx_page_metric_unique,priority:1;index"`
	Page       string    `gorm:"size:511;not null;uniqueIndex:idx_page_metric_unique,priority:2"`

	// Project is an optional tag grouping pages under a product.
	Project *string `gorm:"size:128;index"`

	PageViews       int64 `gorm:"not null"`
	UniquePageViews int64 `gorm:"not null"`
	Entrances       int64 `gorm:"not null"`

	// AverageTimeOnPage (seconds) is not computed yet: the export column is
	// read and discarded, so this is always 0.
	AverageTimeOnPage int `gorm:"not null;default:0"`

	// Rates are fractions in [0,1]. NULL means no contributing row had a value.
	BounceRate  *float64
	PercentExit *float64

	SourceFile string `gorm:"size:1024;not null;uniqueIndex:idx_page_metric_unique,priority:4;index"`
}

// ProcessedFile is the ledger: a row exists exactly when the records of
// FilePath have been committed.
type ProcessedFile struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	FilePath string `gorm:"size:1024;not null;uniqueIndex"`

	Site       string     `gorm:"size:255;not null;index"`
	ReportDate time.Time  `gorm:"type:date;not null"`
	EndDate    *time.Time `gorm:"type:date"`

	RowsRead    int  `gorm:"not null"`
	RecordCount int  `gorm:"not null"`
	Truncated   bool `gorm:"not null;default:false"`

	// Details holds parse diagnostics (row the scan stopped at, reason,
	// rule set version) for re-running a file by hand.
	Details datatypes.JSONMap `gorm:"type:json"`
}
