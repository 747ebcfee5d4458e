// =============================================================================
// pkg/report/table.go - Percentile Matrix Table
// =============================================================================
//
// A Table is the report surface: one row per metric, one column per summary
// percentile. Cells are rendered strings so the pretty-printed table and the
// CSV export are guaranteed to show identical values.
//
// =============================================================================

package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
)

// Table accumulates report rows under a fixed header.
type Table struct {
	header []string
	rows   [][]string
}

// NewMatrix creates a table whose first column is the metric name and whose
// remaining columns are the summary percentiles. The Min column is omitted:
// re-aggregated rows carry a per-block minimum that reads as noise.
func NewMatrix(name string) *Table {
	header := []string{name}
	for _, p := range stats.Percentiles() {
		if p != stats.Min {
			header = append(header, p.String())
		}
	}
	return &Table{header: header}
}

// AddStat appends one metric row. Rank percentiles render with format
// (use "%d" for integral metrics); Avg and Cnt always render raw. An empty
// format renders every column raw. Missing columns render as "N/A".
func (t *Table) AddStat(name, format string, stat stats.Statistics) {
	row := []string{name}
	for _, p := range stats.Percentiles() {
		if p == stats.Min {
			continue
		}

		v, ok := stat.Get(p)
		if !ok {
			row = append(row, "N/A")
			continue
		}

		if format == "" || p == stats.Avg || p == stats.Cnt {
			row = append(row, formatRaw(v))
		} else {
			row = append(row, formatCell(format, v))
		}
	}
	t.rows = append(t.rows, row)
}

// AddData appends one metric row computed from raw samples.
func (t *Table) AddData(name, format string, data []float64) {
	t.AddStat(name, format, stats.NewStatistics(data))
}

// PrettyPrint renders the table to w.
func (t *Table) PrettyPrint(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(t.header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	for _, row := range t.rows {
		table.Append(row)
	}
	table.Render()
}

// WriteCSV writes the header and rows to outputFile.
func (t *Table) WriteCSV(outputFile string) error {
	f, err := os.Create(outputFile)
	if err != nil {
		return errors.Wrapf(err, "failed to create CSV output %s", outputFile)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.header); err != nil {
		return errors.Wrap(err, "failed to write CSV header")
	}
	for _, row := range t.rows {
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "failed to write CSV row")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "failed to flush CSV output")
}

func formatRaw(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// formatCell applies a printf-style format; "%d" formats truncate to the
// integer part.
func formatCell(format string, v float64) string {
	if strings.Contains(format, "%d") {
		return fmt.Sprintf(format, int64(v))
	}
	return fmt.Sprintf(format, v)
}
