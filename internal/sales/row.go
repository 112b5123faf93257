package sales

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the only accepted date format for the date column.
const DateLayout = "2006-01-02"

// SkipReason explains why a data row did not contribute to the totals.
type SkipReason int

const (
	// SkipNone marks a valid row.
	SkipNone SkipReason = iota
	// SkipMissingColumns marks a row with fewer than three fields.
	SkipMissingColumns
	// SkipEmptyDepartment marks a row whose department is blank.
	SkipEmptyDepartment
	// SkipInvalidDate marks a row whose date is not YYYY-MM-DD.
	SkipInvalidDate
	// SkipInvalidSales marks a row whose sales value is not an integer.
	SkipInvalidSales
	// SkipNegativeSales marks a row with a sales value below zero.
	SkipNegativeSales
	// SkipMalformedRecord marks a record the CSV reader could not parse.
	SkipMalformedRecord
)

var skipReasonNames = map[SkipReason]string{
	SkipNone:            "none",
	SkipMissingColumns:  "missing_columns",
	SkipEmptyDepartment: "empty_department",
	SkipInvalidDate:     "invalid_date",
	SkipInvalidSales:    "invalid_sales",
	SkipNegativeSales:   "negative_sales",
	SkipMalformedRecord: "malformed_record",
}

func (r SkipReason) String() string {
	if name, ok := skipReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// Row is a validated sales record.
type Row struct {
	Department string
	Date       time.Time
	Sales      int64
}

// ParseRow validates the fields of one data row.
// Fields past the third are ignored.
func ParseRow(fields []string) (Row, SkipReason) {
	if len(fields) < 3 {
		return Row{}, SkipMissingColumns
	}

	department := strings.TrimSpace(fields[0])
	if department == "" {
		return Row{}, SkipEmptyDepartment
	}

	date, err := time.Parse(DateLayout, strings.TrimSpace(fields[1]))
	if err != nil {
		return Row{}, SkipInvalidDate
	}

	sales, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return Row{}, SkipInvalidSales
	}
	if sales < 0 {
		return Row{}, SkipNegativeSales
	}

	return Row{Department: department, Date: date, Sales: sales}, SkipNone
}
