package sales

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/jszwec/csvutil"
)

// DepartmentTotal is one line of the output report.
type DepartmentTotal struct {
	Department string `csv:"Department Name"`
	Total      int64  `csv:"Total Number of Sales"`
}

// Departments returns the totals sorted by department name ascending.
func (r *Result) Departments() []DepartmentTotal {
	out := make([]DepartmentTotal, 0, len(r.Totals))
	for dept, total := range r.Totals {
		out = append(out, DepartmentTotal{Department: dept, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Department < out[j].Department
	})
	return out
}

// WriteReport writes the result as CSV with a header row and one row per
// department in ascending order. The header is written even when there are
// no departments.
func WriteReport(w io.Writer, result *Result) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(DepartmentTotal{}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, line := range result.Departments() {
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode department %q: %w", line.Department, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}
