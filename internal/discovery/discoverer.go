// Package discovery finds export files under the data root and hands them to
// the queue.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"webmetrics/internal/logger"
	"webmetrics/internal/queue"
)

var (
	// ErrBadFileName is returned when a file name does not carry a
	// "<text> <start>-<end>.<ext>" date range.
	ErrBadFileName = errors.New("discovery: file name has no report date")
	// ErrBadImport is returned by ScanImport for an incomplete or unreadable request.
	ErrBadImport = errors.New("discovery: invalid import request")
)

const dateLayout = "20060102"

// Stats counts what one scan saw. Skipped files matched an exclusion,
// Rejected files had no usable date in their name.
type Stats struct {
	Emitted  int
	Skipped  int
	Rejected int
}

func (s *Stats) add(o Stats) {
	s.Emitted += o.Emitted
	s.Skipped += o.Skipped
	s.Rejected += o.Rejected
}

// Discoverer turns directory listings into work items. It never reads file
// contents and keeps no state between scans.
type Discoverer struct {
	logger *logger.Logger
}

func NewDiscoverer(log *logger.Logger) *Discoverer {
	return &Discoverer{logger: log}
}

// Scan treats every immediate subdirectory of root as a site and emits one
// item per eligible file in it. Nested directories are not descended into.
func (d *Discoverer) Scan(root string, emit func(queue.WorkItem)) Stats {
	var stats Stats
	entries, err := os.ReadDir(root)
	if err != nil {
		d.logger.Error("[discovery] cannot list data root %s: %v", root, err)
		return stats
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if isExcluded(e.Name()) {
			d.logger.Debug("[discovery] skipping directory %s", e.Name())
			stats.Skipped++
			continue
		}
		stats.add(d.scanSite(e.Name(), filepath.Join(root, e.Name()), emit))
	}
	d.logger.Debug("[discovery] scanned %s: %d emitted, %d skipped, %d rejected",
		root, stats.Emitted, stats.Skipped, stats.Rejected)
	return stats
}

// ScanImport scans a single file or directory on behalf of site. A file
// yields at most one item.
func (d *Discoverer) ScanImport(site, path string, emit func(queue.WorkItem)) (Stats, error) {
	if site == "" || path == "" {
		return Stats{}, fmt.Errorf("%w: site and path are required", ErrBadImport)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrBadImport, err)
	}
	if fi.IsDir() {
		return d.scanSite(site, path, emit), nil
	}
	var stats Stats
	d.consider(site, path, &stats, emit)
	return stats, nil
}

func (d *Discoverer) scanSite(site, dir string, emit func(queue.WorkItem)) Stats {
	var stats Stats
	entries, err := os.ReadDir(dir)
	if err != nil {
		d.logger.Error("[discovery] cannot list %s (site=%s): %v", dir, site, err)
		return stats
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		d.consider(site, filepath.Join(dir, e.Name()), &stats, emit)
	}
	return stats
}

func (d *Discoverer) consider(site, path string, stats *Stats, emit func(queue.WorkItem)) {
	name := filepath.Base(path)
	if isExcluded(name) {
		stats.Skipped++
		return
	}
	start, err := ReportStartDate(name)
	if err != nil {
		d.logger.Error("[discovery] skipping %s (site=%s): %v", path, site, err)
		stats.Rejected++
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		d.logger.Error("[discovery] skipping %s (site=%s): %v", path, site, err)
		stats.Rejected++
		return
	}

	item := queue.WorkItem{Site: site, FilePath: abs, ReportDate: start}
	if end, err := EndDate(name); err == nil {
		item.EndDate = &end
	}
	d.logger.Trace("[discovery] found %s (site=%s date=%s)", abs, site, start.Format("2006-01-02"))
	stats.Emitted++
	emit(item)
}

// isExcluded matches OS artifacts, editor swap files, archive markers and
// duplicate downloads.
func isExcluded(name string) bool {
	if strings.Contains(name, "(1)") {
		return true
	}
	for _, suffix := range []string{".DS_Store", ".swp", "processed", "archive", "archived"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// dateRange is the last space-delimited token of name, or "" when name has
// no free text before the range.
func dateRange(name string) string {
	if i := strings.LastIndex(name, " "); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// ReportStartDate reads the start of the range in names such as
// "Analytics jboss.org Pages 20131101-20131130.csv".
func ReportStartDate(name string) (time.Time, error) {
	s, _, _ := strings.Cut(dateRange(name), "-")
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	return t, nil
}

// EndDate reads the end of the range, between the first "-" and the
// extension.
func EndDate(name string) (time.Time, error) {
	_, s, ok := strings.Cut(dateRange(name), "-")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[:i]
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	return t, nil
}
