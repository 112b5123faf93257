package sales

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReport(t *testing.T) {
	result := &Result{Totals: map[string]int64{
		"Electronics":  250,
		"Clothing":     200,
		"Home, Garden": 3,
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, result))

	want := "Department Name,Total Number of Sales\n" +
		"Clothing,200\n" +
		"Electronics,250\n" +
		"\"Home, Garden\",3\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, &Result{Totals: map[string]int64{}}))

	assert.Equal(t, "Department Name,Total Number of Sales\n", buf.String())
}

func TestResult_DepartmentsSorted(t *testing.T) {
	result := &Result{Totals: map[string]int64{"b": 1, "B": 2, "a": 3, "c": 4, "A": 5}}

	departments := result.Departments()
	names := make([]string, len(departments))
	for i, d := range departments {
		names[i] = d.Department
	}

	assert.True(t, sort.StringsAreSorted(names))
	assert.Equal(t, []string{"A", "B", "a", "b", "c"}, names)
}
