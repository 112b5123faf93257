// Package sales aggregates streamed sales CSV uploads into per-department totals.
package sales

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyInput is returned when the stream holds no records, not even a header.
	ErrEmptyInput = errors.New("csv file is empty")
	// ErrInvalidHeader is returned when the header has fewer than three columns.
	ErrInvalidHeader = errors.New("csv must have at least 3 columns: Department Name, Date, Number of Sales")
	// ErrInvalidEncoding is returned when a record is not valid UTF-8.
	ErrInvalidEncoding = errors.New("csv is not valid UTF-8")
)

// Result is the outcome of one aggregation run.
type Result struct {
	// Totals maps department name to the sum of its sales.
	Totals map[string]int64
	// RowsProcessed counts valid data rows.
	RowsProcessed int
	// RowsSkipped counts rejected data rows.
	RowsSkipped int
	// Skipped breaks RowsSkipped down by reason.
	Skipped SkipCounts
}

// SkipCounts maps a skip reason to the number of rows it rejected.
// It logs as a group keyed by reason name, in reason order.
type SkipCounts map[SkipReason]int

// LogValue implements slog.LogValuer.
func (c SkipCounts) LogValue() slog.Value {
	reasons := make([]SkipReason, 0, len(c))
	for r := range c {
		reasons = append(reasons, r)
	}
	slices.Sort(reasons)

	attrs := make([]slog.Attr, 0, len(reasons))
	for _, r := range reasons {
		attrs = append(attrs, slog.Int(r.String(), c[r]))
	}
	return slog.GroupValue(attrs...)
}

// DepartmentsCount returns the number of distinct departments seen.
func (r *Result) DepartmentsCount() int {
	return len(r.Totals)
}

// Aggregator sums sales per department from a chunk stream.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Aggregate consumes stream until io.EOF. The first record is the header and
// is discarded. Invalid data rows are skipped and counted; they never fail the
// run. Cancelling ctx stops the run before the next row.
func (a *Aggregator) Aggregate(ctx context.Context, stream ChunkStream) (*Result, error) {
	reader := csv.NewReader(&chunkReader{stream: stream})
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !validUTF8(header) {
		return nil, fmt.Errorf("%w: line 1", ErrInvalidEncoding)
	}
	if len(header) == 1 && strings.TrimSpace(header[0]) == "" {
		return nil, ErrEmptyInput
	}
	if len(header) < 3 {
		return nil, ErrInvalidHeader
	}

	result := &Result{
		Totals:  make(map[string]int64),
		Skipped: make(SkipCounts),
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			a.skip(ctx, result, parseErr.StartLine, SkipMalformedRecord)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		line, _ := reader.FieldPos(0)
		if !validUTF8(record) {
			return nil, fmt.Errorf("%w: line %d", ErrInvalidEncoding, line)
		}

		row, reason := ParseRow(record)
		if reason != SkipNone {
			a.skip(ctx, result, line, reason)
			continue
		}

		result.Totals[row.Department] += row.Sales
		result.RowsProcessed++
	}

	a.logger.InfoContext(ctx, "aggregation finished",
		slog.Int("rows_processed", result.RowsProcessed),
		slog.Int("rows_skipped", result.RowsSkipped),
		slog.Int("departments", result.DepartmentsCount()),
		slog.Any("skipped", result.Skipped),
	)

	return result, nil
}

func (a *Aggregator) skip(ctx context.Context, result *Result, line int, reason SkipReason) {
	result.RowsSkipped++
	result.Skipped[reason]++
	a.logger.DebugContext(ctx, "skipping row",
		slog.Int("line", line),
		slog.String("reason", reason.String()),
	)
}

func validUTF8(fields []string) bool {
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return false
		}
	}
	return true
}
