// Package pageview reads the standard page-view export: a CSV body preceded
// by a fixed block of metadata lines, one row per page.
package pageview

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrOpen is returned by ParseFile when the export cannot be opened.
var ErrOpen = errors.New("pageview: cannot open export")

const (
	// HeaderLines is the metadata block at the top of every export.
	HeaderLines = 7
	// EndOfPageBlock is the line index (0-based, header included) at which
	// the per-page URI block of a standard export ends.
	EndOfPageBlock = 2506
)

// Column order of the page block. Anything after ColPercentExit is ignored.
const (
	colPage = iota
	colPageViews
	colUniquePageViews
	colAvgTimeOnPage
	colEntrances
	colBounceRate
	colPercentExit

	minColumns
)

// Row is one page line of the export. Rates are fractions (45.5% is 0.455);
// a nil rate means the cell was empty.
type Row struct {
	Page            string
	PageViews       int64
	UniquePageViews int64
	Entrances       int64
	BounceRate      *float64
	PercentExit     *float64
}

// Result is what a scan produced. When Truncated is set the scan stopped at
// data row StoppedAt (1-based) because of Reason; Rows holds everything
// read before it.
type Result struct {
	Rows      []Row
	Truncated bool
	StoppedAt int
	Reason    error
}

// Parser scans exports. LastLine bounds the scan in physical line indices,
// counted from 0 and including the SkipLines header.
type Parser struct {
	SkipLines int
	LastLine  int
}

// Default matches the standard export layout.
var Default = &Parser{SkipLines: HeaderLines, LastLine: EndOfPageBlock}

// ParseFile opens path and scans it.
func (p *Parser) ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrOpen, path, err)
	}
	defer f.Close()
	return p.Parse(f), nil
}

// Parse scans r. It never fails: a malformed row ends the scan and is
// reported through Result.Truncated.
func (p *Parser) Parse(r io.Reader) *Result {
	res := &Result{}
	br := bufio.NewReader(r)

	for i := 0; i < p.SkipLines; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			return res
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	for {
		rowNum := len(res.Rows) + 1
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && p.pastEnd(perr.StartLine) {
				break
			}
			res.stop(rowNum, fmt.Errorf("tokenize: %w", err))
			break
		}
		if line, _ := cr.FieldPos(0); p.pastEnd(line) {
			break
		}
		row, err := parseRecord(rec)
		if err != nil {
			res.stop(rowNum, err)
			break
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

// pastEnd reports whether a record starting on csvLine (1-based, counted
// by the csv reader after the header) lies at or beyond LastLine. Blank
// lines and newlines inside quoted fields count as physical lines.
func (p *Parser) pastEnd(csvLine int) bool {
	return p.SkipLines+csvLine-1 >= p.LastLine
}

func (r *Result) stop(row int, reason error) {
	r.Truncated = true
	r.StoppedAt = row
	r.Reason = reason
}

func parseRecord(rec []string) (Row, error) {
	if len(rec) < minColumns {
		return Row{}, fmt.Errorf("expected %d fields, got %d", minColumns, len(rec))
	}

	row := Row{Page: rec[colPage]}
	var err error
	if row.PageViews, err = parseCount(rec[colPageViews]); err != nil {
		return Row{}, fmt.Errorf("page views: %w", err)
	}
	if row.UniquePageViews, err = parseCount(rec[colUniquePageViews]); err != nil {
		return Row{}, fmt.Errorf("unique page views: %w", err)
	}
	// rec[colAvgTimeOnPage] is not stored yet.
	if row.Entrances, err = parseCount(rec[colEntrances]); err != nil {
		return Row{}, fmt.Errorf("entrances: %w", err)
	}
	if row.BounceRate, err = parseRate(rec[colBounceRate]); err != nil {
		return Row{}, fmt.Errorf("bounce rate: %w", err)
	}
	if row.PercentExit, err = parseRate(rec[colPercentExit]); err != nil {
		return Row{}, fmt.Errorf("percent exit: %w", err)
	}
	return row, nil
}

var numberCleaner = strings.NewReplacer(`"`, "", ",", "", " ", "")

// parseCount reads a non-negative integer such as `"1,234"`.
func parseCount(s string) (int64, error) {
	n, err := strconv.ParseUint(numberCleaner.Replace(s), 10, 63)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// parseRate reads a percentage such as `45.50%` and returns it as a fraction.
func parseRate(s string) (*float64, error) {
	v := strings.TrimSuffix(numberCleaner.Replace(s), "%")
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil, fmt.Errorf("invalid rate %q", s)
	}
	f /= 100
	return &f, nil
}
