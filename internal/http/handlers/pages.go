package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	dbpkg "webmetrics/internal/db"
	"webmetrics/internal/logger"
)

// MetricsReader is the query side of the store.
type MetricsReader interface {
	ListMetrics(ctx context.Context, f dbpkg.MetricFilter) ([]dbpkg.PageMetric, error)
	ListProcessed(ctx context.Context, site string, limit int) ([]dbpkg.ProcessedFile, error)
}

type pageRow struct {
	ReportDate      string   `json:"report_date"`
	Site            string   `json:"site"`
	Page            string   `json:"page"`
	Project         *string  `json:"project,omitempty"`
	PageViews       int64    `json:"page_views"`
	UniquePageViews int64    `json:"unique_page_views"`
	Entrances       int64    `json:"entrances"`
	BounceRate      *float64 `json:"bounce_rate"`
	PercentExit     *float64 `json:"percent_exit"`
	SourceFile      string   `json:"source_file"`
}

type fileRow struct {
	FilePath    string         `json:"file_path"`
	Site        string         `json:"site"`
	ReportDate  string         `json:"report_date"`
	EndDate     string         `json:"end_date,omitempty"`
	RowsRead    int            `json:"rows_read"`
	RecordCount int            `json:"record_count"`
	Truncated   bool           `json:"truncated"`
	Details     map[string]any `json:"details,omitempty"`
	ProcessedAt time.Time      `json:"processed_at"`
}

func queryLimit(ctx *fasthttp.RequestCtx) int {
	n, err := strconv.Atoi(string(ctx.QueryArgs().Peek("limit")))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// PageMetricsHandler lists committed page records filtered by site, page,
// project and report date (YYYY-MM-DD).
func PageMetricsHandler(store MetricsReader, log *logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		f := dbpkg.MetricFilter{
			Site:    string(args.Peek("site")),
			Page:    string(args.Peek("page")),
			Project: string(args.Peek("project")),
			Limit:   queryLimit(ctx),
		}
		if d := string(args.Peek("date")); d != "" {
			t, err := time.ParseInLocation("2006-01-02", d, time.UTC)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "date must be YYYY-MM-DD")
				return
			}
			f.ReportDate = &t
		}

		metrics, err := store.ListMetrics(ctx, f)
		if err != nil {
			log.Error("[http] list page metrics: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query page metrics")
			return
		}

		rows := make([]pageRow, 0, len(metrics))
		for _, m := range metrics {
			rows = append(rows, pageRow{
				ReportDate:      m.ReportDate.Format("2006-01-02"),
				Site:            m.Site,
				Page:            m.Page,
				Project:         m.Project,
				PageViews:       m.PageViews,
				UniquePageViews: m.UniquePageViews,
				Entrances:       m.Entrances,
				BounceRate:      m.BounceRate,
				PercentExit:     m.PercentExit,
				SourceFile:      m.SourceFile,
			})
		}
		jsonResponse(ctx, map[string]any{"pages": rows, "count": len(rows)})
	}
}

// ProcessedFilesHandler lists ledger entries, newest first.
func ProcessedFilesHandler(store MetricsReader, log *logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		files, err := store.ListProcessed(ctx, string(ctx.QueryArgs().Peek("site")), queryLimit(ctx))
		if err != nil {
			log.Error("[http] list processed files: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query processed files")
			return
		}

		rows := make([]fileRow, 0, len(files))
		for _, pf := range files {
			row := fileRow{
				FilePath:    pf.FilePath,
				Site:        pf.Site,
				ReportDate:  pf.ReportDate.Format("2006-01-02"),
				RowsRead:    pf.RowsRead,
				RecordCount: pf.RecordCount,
				Truncated:   pf.Truncated,
				Details:     pf.Details,
				ProcessedAt: pf.CreatedAt,
			}
			if pf.EndDate != nil {
				row.EndDate = pf.EndDate.Format("2006-01-02")
			}
			rows = append(rows, row)
		}
		jsonResponse(ctx, map[string]any{"files": rows, "count": len(rows)})
	}
}
