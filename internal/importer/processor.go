// Package importer turns one export file into committed page metrics:
// ledger check, parse, normalize, consolidate, atomic commit.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"

	dbpkg "webmetrics/internal/db"
	"webmetrics/internal/logger"
	"webmetrics/internal/pageview"
	"webmetrics/internal/pathrules"
	"webmetrics/internal/queue"
)

var (
	// ErrInput marks items that can never succeed as given (unreadable
	// file, incomplete work item). They are not worth redelivering.
	ErrInput = errors.New("input error")
	// ErrPersistence marks store failures. Nothing was committed and the
	// item may be retried.
	ErrPersistence = errors.New("persistence error")
)

// Outcome of a successful Process call.
type Outcome int

const (
	OutcomeCommitted Outcome = iota + 1
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Store is the persistence the processor needs. SaveAll must be atomic and
// return db.ErrAlreadyProcessed if the ledger already holds entry.FilePath.
type Store interface {
	Exists(ctx context.Context, filePath string) (bool, error)
	SaveAll(ctx context.Context, records []dbpkg.PageMetric, entry *dbpkg.ProcessedFile) error
}

// Processor handles one work item at a time and keeps no state between
// items, so one instance can serve every worker.
type Processor struct {
	Parser *pageview.Parser
	Rules  *pathrules.RuleSet

	store   Store
	logger  *logger.Logger
	metrics *Metrics
}

// NewProcessor uses the standard export layout and the default rule set.
// metrics may be nil.
func NewProcessor(store Store, log *logger.Logger, metrics *Metrics) *Processor {
	return &Processor{
		Parser:  pageview.Default,
		Rules:   pathrules.Default,
		store:   store,
		logger:  log,
		metrics: metrics,
	}
}

// Process imports item.FilePath unless the ledger already has it. It is
// safe to call any number of times for the same item.
func (p *Processor) Process(ctx context.Context, item queue.WorkItem) (Outcome, error) {
	start := time.Now()
	date := item.ReportDate.Format("2006-01-02")

	if item.Site == "" || item.FilePath == "" || item.ReportDate.IsZero() {
		p.observe(item.Site, "input_error", start)
		return 0, fmt.Errorf("%w: incomplete work item %+v", ErrInput, item)
	}

	done, err := p.store.Exists(ctx, item.FilePath)
	if err != nil {
		p.observe(item.Site, "persistence_error", start)
		return 0, fmt.Errorf("%w: ledger lookup for %s: %w", ErrPersistence, item.FilePath, err)
	}
	if done {
		p.logger.Trace("[importer] %s already processed, skipping (site=%s date=%s)", item.FilePath, item.Site, date)
		p.observe(item.Site, "duplicate", start)
		return OutcomeDuplicate, nil
	}

	res, err := p.Parser.ParseFile(item.FilePath)
	if err != nil {
		p.logger.Error("[importer] cannot read %s (site=%s date=%s): %v", item.FilePath, item.Site, date, err)
		p.observe(item.Site, "input_error", start)
		return 0, fmt.Errorf("%w: %w", ErrInput, err)
	}
	if res.Truncated {
		p.logger.Warn("[importer] scan of %s stopped at row %d (site=%s date=%s): %v; keeping %d rows",
			item.FilePath, res.StoppedAt, item.Site, date, res.Reason, len(res.Rows))
	}

	consolidated := Aggregate(res.Rows, func(raw string) (string, *string) {
		return p.Rules.Normalize(item.Site, raw)
	})
	records := toPageMetrics(consolidated, item)
	entry := p.ledgerEntry(item, res, len(records))

	p.logger.Info("[importer] saving %d pages from %d rows of %s (site=%s date=%s)",
		len(records), len(res.Rows), item.FilePath, item.Site, date)

	if err := p.store.SaveAll(ctx, records, entry); err != nil {
		if errors.Is(err, dbpkg.ErrAlreadyProcessed) {
			p.logger.Trace("[importer] %s committed concurrently by another worker", item.FilePath)
			p.observe(item.Site, "duplicate", start)
			return OutcomeDuplicate, nil
		}
		p.logger.Error("[importer] commit of %s failed (site=%s date=%s): %v", item.FilePath, item.Site, date, err)
		p.observe(item.Site, "persistence_error", start)
		return 0, fmt.Errorf("%w: commit %s: %w", ErrPersistence, item.FilePath, err)
	}

	if p.metrics != nil {
		p.metrics.RowsParsed.WithLabelValues(item.Site).Add(float64(len(res.Rows)))
		p.metrics.RecordsCommitted.WithLabelValues(item.Site).Add(float64(len(records)))
		if res.Truncated {
			p.metrics.TruncatedFiles.WithLabelValues(item.Site).Inc()
		}
	}
	p.observe(item.Site, "committed", start)
	return OutcomeCommitted, nil
}

func (p *Processor) observe(site, outcome string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.Files.WithLabelValues(site, outcome).Inc()
	p.metrics.FileDuration.WithLabelValues(site).Observe(time.Since(start).Seconds())
}

func (p *Processor) ledgerEntry(item queue.WorkItem, res *pageview.Result, records int) *dbpkg.ProcessedFile {
	details := datatypes.JSONMap{"rule_set": p.Rules.Version}
	if res.Truncated {
		details["stopped_at_row"] = res.StoppedAt
		details["reason"] = res.Reason.Error()
	}
	return &dbpkg.ProcessedFile{
		FilePath:    item.FilePath,
		Site:        item.Site,
		ReportDate:  item.ReportDate,
		EndDate:     item.EndDate,
		RowsRead:    len(res.Rows),
		RecordCount: records,
		Truncated:   res.Truncated,
		Details:     details,
	}
}

// toPageMetrics stamps every record with the item's site, date and file,
// ordered by page so inserts are deterministic.
func toPageMetrics(consolidated map[string]*Record, item queue.WorkItem) []dbpkg.PageMetric {
	out := make([]dbpkg.PageMetric, 0, len(consolidated))
	for _, r := range consolidated {
		out = append(out, dbpkg.PageMetric{
			ReportDate:      item.ReportDate,
			Site:            item.Site,
			Page:            r.Page,
			Project:         r.Project,
			PageViews:       r.PageViews,
			UniquePageViews: r.UniquePageViews,
			Entrances:       r.Entrances,
			BounceRate:      r.BounceRate(),
			PercentExit:     r.PercentExit(),
			SourceFile:      item.FilePath,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}
