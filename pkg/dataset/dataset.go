// Package dataset wraps a loaded tabular dataset and exposes the derived
// views the sandbox and server need: schema, summaries, column statistics,
// filtering and grouping. The schema is re-derived on every call rather than
// cached, since the underlying frame can be replaced between turns.
package dataset

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Dataset is an in-memory tabular structure with named, typed columns.
// It is owned by exactly one session; executors receive a reference, never a
// copy, so mutations made by one round are visible to the next.
type Dataset struct {
	name string
	df   dataframe.DataFrame
}

// ColumnInfo describes one column of the dataset.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // "int", "float", "string", "bool"
}

// Load reads a CSV stream into a Dataset. The name is informational (usually
// the uploaded filename).
func Load(name string, r io.Reader) (*Dataset, error) {
	df := dataframe.ReadCSV(r)
	if df.Err != nil {
		return nil, fmt.Errorf("reading csv: %w", df.Err)
	}
	if df.Ncol() == 0 {
		return nil, fmt.Errorf("dataset %q has no columns", name)
	}
	return &Dataset{name: name, df: df}, nil
}

// LoadFile reads a CSV file from disk.
func LoadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()
	return Load(filepath.Base(path), f)
}

// Name returns the dataset's display name.
func (d *Dataset) Name() string { return d.name }

// WriteCSV serializes the dataset back to CSV, header included. Used to ship
// the dataset to an out-of-process executor.
func (d *Dataset) WriteCSV(w io.Writer) error {
	if err := d.df.WriteCSV(w); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// Rows returns the number of rows.
func (d *Dataset) Rows() int { return d.df.Nrow() }

// Cols returns the number of columns.
func (d *Dataset) Cols() int { return d.df.Ncol() }

// Schema returns the current column names and types. Always derived fresh.
func (d *Dataset) Schema() []ColumnInfo {
	names := d.df.Names()
	types := d.df.Types()
	info := make([]ColumnInfo, len(names))
	for i, n := range names {
		info[i] = ColumnInfo{Name: n, Type: string(types[i])}
	}
	return info
}

// Columns returns the column names in order.
func (d *Dataset) Columns() []string { return d.df.Names() }

// NumericColumns returns the names of int and float columns.
func (d *Dataset) NumericColumns() []string {
	var out []string
	for _, c := range d.Schema() {
		if c.Type == string(series.Int) || c.Type == string(series.Float) {
			out = append(out, c.Name)
		}
	}
	return out
}

// CategoricalColumns returns the names of string and bool columns.
func (d *Dataset) CategoricalColumns() []string {
	var out []string
	for _, c := range d.Schema() {
		if c.Type == string(series.String) || c.Type == string(series.Bool) {
			out = append(out, c.Name)
		}
	}
	return out
}

// MissingCounts returns the number of missing values per column.
func (d *Dataset) MissingCounts() map[string]int {
	out := make(map[string]int, d.df.Ncol())
	for _, name := range d.df.Names() {
		s := d.df.Col(name)
		n := 0
		for _, missing := range s.IsNaN() {
			if missing {
				n++
			}
		}
		out[name] = n
	}
	return out
}

// Describe returns the textual describe() table for the whole frame.
func (d *Dataset) Describe() string {
	return d.df.Describe().String()
}

// Head returns the first n rows rendered as aligned text.
func (d *Dataset) Head(n int) string {
	if n <= 0 {
		n = 5
	}
	if n > d.df.Nrow() {
		n = d.df.Nrow()
	}
	records := d.df.Records() // first row is the header
	var sb strings.Builder
	for i := 0; i <= n && i < len(records); i++ {
		sb.WriteString(strings.Join(records[i], ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Info returns a compact schema description used by the sanity-check round.
func (d *Dataset) Info() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d rows x %d columns\n", d.Rows(), d.Cols())
	missing := d.MissingCounts()
	for _, c := range d.Schema() {
		fmt.Fprintf(&sb, "  %s: %s (%d missing)\n", c.Name, c.Type, missing[c.Name])
	}
	return sb.String()
}

func (d *Dataset) column(name string) (series.Series, error) {
	s := d.df.Col(name)
	if s.Err != nil {
		return s, fmt.Errorf("column %q: %w", name, s.Err)
	}
	return s, nil
}

// Values returns a column's values as floats. Non-numeric cells come back as
// NaN, matching gota's coercion.
func (d *Dataset) Values(name string) ([]float64, error) {
	s, err := d.column(name)
	if err != nil {
		return nil, err
	}
	return s.Float(), nil
}

// Records returns a column's values as strings.
func (d *Dataset) Records(name string) ([]string, error) {
	s, err := d.column(name)
	if err != nil {
		return nil, err
	}
	return s.Records(), nil
}

// Mean returns the arithmetic mean of a numeric column.
func (d *Dataset) Mean(name string) (float64, error) {
	s, err := d.column(name)
	if err != nil {
		return 0, err
	}
	return s.Mean(), nil
}

// Median returns the median of a numeric column.
func (d *Dataset) Median(name string) (float64, error) {
	s, err := d.column(name)
	if err != nil {
		return 0, err
	}
	return s.Median(), nil
}

// Min returns the minimum of a numeric column.
func (d *Dataset) Min(name string) (float64, error) {
	s, err := d.column(name)
	if err != nil {
		return 0, err
	}
	return s.Min(), nil
}

// Max returns the maximum of a numeric column.
func (d *Dataset) Max(name string) (float64, error) {
	s, err := d.column(name)
	if err != nil {
		return 0, err
	}
	return s.Max(), nil
}

// StdDev returns the sample standard deviation of a numeric column.
func (d *Dataset) StdDev(name string) (float64, error) {
	s, err := d.column(name)
	if err != nil {
		return 0, err
	}
	return s.StdDev(), nil
}

// ValueCount is one (value, count) pair from ValueCounts, ordered by
// descending count.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ValueCounts tallies the distinct values of a column.
func (d *Dataset) ValueCounts(name string) ([]ValueCount, error) {
	recs, err := d.Records(name)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range recs {
		counts[r]++
	}
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

// Correlation returns the Pearson correlation between two numeric columns,
// skipping rows where either value is missing.
func (d *Dataset) Correlation(a, b string) (float64, error) {
	xs, err := d.Values(a)
	if err != nil {
		return 0, err
	}
	ys, err := d.Values(b)
	if err != nil {
		return 0, err
	}
	if len(xs) != len(ys) {
		return 0, fmt.Errorf("columns %q and %q have different lengths", a, b)
	}
	var sx, sy, sxx, syy, sxy float64
	n := 0
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		syy += ys[i] * ys[i]
		sxy += xs[i] * ys[i]
		n++
	}
	if n < 2 {
		return 0, fmt.Errorf("not enough paired values in %q and %q", a, b)
	}
	fn := float64(n)
	cov := sxy - sx*sy/fn
	vx := sxx - sx*sx/fn
	vy := syy - sy*sy/fn
	if vx == 0 || vy == 0 {
		return 0, fmt.Errorf("zero variance in %q or %q", a, b)
	}
	return cov / math.Sqrt(vx*vy), nil
}

// GroupStat is one group's aggregate from GroupBy.
type GroupStat struct {
	Group string  `json:"group"`
	Value float64 `json:"value"`
}

// GroupBy aggregates a value column per distinct value of a group column.
// agg is one of "mean", "sum", "count", "min", "max", "median".
func (d *Dataset) GroupBy(group, value, agg string) ([]GroupStat, error) {
	var typ dataframe.AggregationType
	switch agg {
	case "mean", "":
		typ = dataframe.Aggregation_MEAN
	case "sum":
		typ = dataframe.Aggregation_SUM
	case "count":
		typ = dataframe.Aggregation_COUNT
	case "min":
		typ = dataframe.Aggregation_MIN
	case "max":
		typ = dataframe.Aggregation_MAX
	case "median":
		typ = dataframe.Aggregation_MEDIAN
	default:
		return nil, fmt.Errorf("unsupported aggregation %q", agg)
	}

	if _, err := d.column(group); err != nil {
		return nil, err
	}
	if _, err := d.column(value); err != nil {
		return nil, err
	}

	groups := d.df.GroupBy(group)
	if groups.Err != nil {
		return nil, fmt.Errorf("grouping by %q: %w", group, groups.Err)
	}
	agged := groups.Aggregation([]dataframe.AggregationType{typ}, []string{value})
	if agged.Err != nil {
		return nil, fmt.Errorf("aggregating %q: %w", value, agged.Err)
	}

	keys := agged.Col(group).Records()
	// gota names the aggregate column "<value>_<AGG>"; it is the only other
	// column in the result.
	var vals []float64
	for _, name := range agged.Names() {
		if name != group {
			vals = agged.Col(name).Float()
			break
		}
	}

	out := make([]GroupStat, len(keys))
	for i, k := range keys {
		out[i] = GroupStat{Group: k, Value: vals[i]}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out, nil
}

// Filter returns a new Dataset holding only rows where the column satisfies
// the comparison. op is one of "==", "!=", ">", ">=", "<", "<=".
func (d *Dataset) Filter(column, op string, value any) (*Dataset, error) {
	var cmp series.Comparator
	switch op {
	case "==":
		cmp = series.Eq
	case "!=":
		cmp = series.Neq
	case ">":
		cmp = series.Greater
	case ">=":
		cmp = series.GreaterEq
	case "<":
		cmp = series.Less
	case "<=":
		cmp = series.LessEq
	default:
		return nil, fmt.Errorf("unsupported operator %q", op)
	}
	filtered := d.df.Filter(dataframe.F{Colname: column, Comparator: cmp, Comparando: value})
	if filtered.Err != nil {
		return nil, fmt.Errorf("filtering on %q: %w", column, filtered.Err)
	}
	return &Dataset{name: d.name, df: filtered}, nil
}

// FindColumn resolves a user-supplied column name against the actual schema:
// exact match first, then case-insensitive, then closest fuzzy match. Returns
// "" when nothing is close enough.
func (d *Dataset) FindColumn(target string) string {
	cols := d.Columns()
	for _, c := range cols {
		if c == target {
			return c
		}
	}
	lower := strings.ToLower(target)
	for _, c := range cols {
		if strings.ToLower(c) == lower {
			return c
		}
	}
	best := ""
	bestScore := 0.0
	for _, c := range cols {
		score := similarity(lower, strings.ToLower(c))
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore >= 0.6 {
		return best
	}
	return ""
}

// similarity is a normalized edit-distance ratio in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	dist := prev[lb]
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(dist)/float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
