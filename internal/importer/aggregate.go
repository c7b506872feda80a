package importer

import (
	"webmetrics/internal/pageview"
)

// NormalizeFunc maps a raw page path to its canonical key and optional
// project tag.
type NormalizeFunc func(rawPage string) (page string, project *string)

// Record is the consolidation of every row of one file that shares a
// canonical page.
type Record struct {
	Page            string
	Project         *string
	PageViews       int64
	UniquePageViews int64
	Entrances       int64

	bounce weightedRate
	exit   weightedRate
}

// BounceRate is the page-view-weighted bounce rate, nil if no row had one.
func (r *Record) BounceRate() *float64 { return r.bounce.value() }

// PercentExit is the page-view-weighted exit rate, nil if no row had one.
func (r *Record) PercentExit() *float64 { return r.exit.value() }

// weightedRate accumulates sum(pageViews*rate) over the rows that supplied
// a rate. Rows without a rate add nothing, not even weight.
type weightedRate struct {
	weighted float64
	weight   int64

	// plain mean fallback for rows that all had zero page views
	sum   float64
	count int
}

func (w *weightedRate) add(pageViews int64, rate *float64) {
	if rate == nil {
		return
	}
	w.weighted += float64(pageViews) * *rate
	w.weight += pageViews
	w.sum += *rate
	w.count++
}

func (w *weightedRate) value() *float64 {
	switch {
	case w.count == 0:
		return nil
	case w.weight > 0:
		v := w.weighted / float64(w.weight)
		return &v
	default:
		v := w.sum / float64(w.count)
		return &v
	}
}

func (r *Record) add(row pageview.Row) {
	r.PageViews += row.PageViews
	r.UniquePageViews += row.UniquePageViews
	r.Entrances += row.Entrances
	r.bounce.add(row.PageViews, row.BounceRate)
	r.exit.add(row.PageViews, row.PercentExit)
}

// Aggregate folds rows in arrival order into one Record per canonical page.
func Aggregate(rows []pageview.Row, normalize NormalizeFunc) map[string]*Record {
	out := make(map[string]*Record, len(rows))
	for _, row := range rows {
		page, project := normalize(row.Page)
		rec, ok := out[page]
		if !ok {
			rec = &Record{Page: page, Project: project}
			out[page] = rec
		}
		rec.add(row)
	}
	return out
}
