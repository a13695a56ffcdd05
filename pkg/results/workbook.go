// Package results writes per-site latency series to an xlsx workbook, one
// sheet per domain, appending to the workbook across sites and runs.
package results

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/odvcencio/blockbench/pkg/benchmark"
	bberrors "github.com/odvcencio/blockbench/pkg/errors"
)

const (
	defaultSheet      = "Sheet1"
	maxSheetNameRunes = 31
)

// Labels are the column headers of each sheet.
type Labels struct {
	Treatment string
	Baseline  string
}

// DefaultLabels returns the standard column headers.
func DefaultLabels() Labels {
	return Labels{
		Treatment: "Load Time With uBlock (ms)",
		Baseline:  "Load Time Without uBlock (ms)",
	}
}

// FileName returns the conventional workbook name for a run of numTests
// trials per site.
func FileName(numTests int) string {
	return fmt.Sprintf("load_times_details_iteration_%d.xlsx", numTests)
}

// SheetInfo describes one sheet of the workbook.
type SheetInfo struct {
	Name   string
	Rows   int
	Labels []string
}

// SheetData holds the two latency columns of a sheet.
type SheetData struct {
	Name      string
	Labels    []string
	Treatment []float64
	Baseline  []float64
}

// Workbook is the shared result file of a run.
type Workbook struct {
	path   string
	labels Labels
	mu     sync.Mutex
}

// NewWorkbook returns a Workbook at path. Nothing is written until Flush.
func NewWorkbook(path string, labels Labels) *Workbook {
	defaults := DefaultLabels()
	if strings.TrimSpace(labels.Treatment) == "" {
		labels.Treatment = defaults.Treatment
	}
	if strings.TrimSpace(labels.Baseline) == "" {
		labels.Baseline = defaults.Baseline
	}
	return &Workbook{path: path, labels: labels}
}

// Path returns the workbook file path.
func (w *Workbook) Path() string {
	return w.path
}

// Flush writes result to a sheet named after its domain. Other sheets are
// kept as they are; a sheet with the same name is replaced. The file is
// rewritten through a temporary file so an interrupted save never leaves a
// truncated workbook behind.
func (w *Workbook) Flush(result *benchmark.SiteResult) error {
	if result == nil {
		return bberrors.New(bberrors.ErrCodeInvalidInput, "nil site result")
	}
	if len(result.Treatment) != len(result.Baseline) {
		return bberrors.New(bberrors.ErrCodeInvalidInput, "treatment and baseline series differ in length").
			WithContext("site", string(result.Site)).
			WithContext("treatment", len(result.Treatment)).
			WithContext("baseline", len(result.Baseline))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return bberrors.Wrap(err, bberrors.ErrCodeStoreWrite, "create output directory")
		}
	}

	f, created, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	name := SheetName(result.Domain)
	if err := w.prepareSheet(f, name, created); err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeStoreWrite, "prepare sheet").WithContext("sheet", name)
	}
	if err := w.writeRows(f, name, result); err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeStoreWrite, "write rows").WithContext("sheet", name)
	}
	if err := w.save(f); err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeStoreWrite, "save workbook").WithContext("path", w.path)
	}
	return nil
}

func (w *Workbook) open() (*excelize.File, bool, error) {
	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), true, nil
	} else if err != nil {
		return nil, false, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "stat workbook").WithContext("path", w.path)
	}
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		// never overwrite a workbook we cannot read
		return nil, false, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "open workbook").WithContext("path", w.path)
	}
	return f, false, nil
}

func (w *Workbook) prepareSheet(f *excelize.File, name string, created bool) error {
	if created {
		return f.SetSheetName(defaultSheet, name)
	}

	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	if idx < 0 {
		_, err := f.NewSheet(name)
		return err
	}

	// replace in place so the sheet keeps its position in the workbook
	rows, err := f.GetRows(name)
	if err != nil {
		return err
	}
	for r := len(rows); r >= 1; r-- {
		if err := f.RemoveRow(name, r); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workbook) writeRows(f *excelize.File, name string, result *benchmark.SiteResult) error {
	header := []any{w.labels.Treatment, w.labels.Baseline}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}
	for i := range result.Treatment {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{result.Treatment[i], result.Baseline[i]}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workbook) save(f *excelize.File) error {
	dir, base := filepath.Split(w.path)
	tmp := filepath.Join(dir, "."+strings.TrimSuffix(base, filepath.Ext(base))+".partial.xlsx")
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, w.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Sheets lists every sheet with its data row count and header labels.
func (w *Workbook) Sheets() ([]SheetInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "open workbook").WithContext("path", w.path)
	}
	defer f.Close()

	var infos []SheetInfo
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "read sheet").WithContext("sheet", sheet)
		}
		info := SheetInfo{Name: sheet}
		if len(rows) > 0 {
			info.Labels = rows[0]
			info.Rows = len(rows) - 1
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ReadSheet returns the latency columns of the named sheet.
func (w *Workbook) ReadSheet(name string) (*SheetData, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "open workbook").WithContext("path", w.path)
	}
	defer f.Close()

	rows, err := f.GetRows(name)
	if err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "read sheet").WithContext("sheet", name)
	}
	data := &SheetData{Name: name}
	if len(rows) == 0 {
		return data, nil
	}
	data.Labels = rows[0]
	for i, row := range rows[1:] {
		if len(row) < 2 {
			return nil, bberrors.New(bberrors.ErrCodeStoreRead, "short row").
				WithContext("sheet", name).
				WithContext("row", i+2)
		}
		t, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "parse treatment value").WithContext("row", i+2)
		}
		b, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "parse baseline value").WithContext("row", i+2)
		}
		data.Treatment = append(data.Treatment, t)
		data.Baseline = append(data.Baseline, b)
	}
	return data, nil
}

// SheetName converts a domain into a valid sheet name: at most 31
// characters, none of []:*?/\ and no surrounding apostrophes.
func SheetName(domain string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, strings.TrimSpace(domain))
	name = strings.Trim(name, "'")
	if utf8.RuneCountInString(name) > maxSheetNameRunes {
		name = string([]rune(name)[:maxSheetNameRunes])
	}
	if name == "" {
		return "site"
	}
	return name
}
