package script

import (
	"fmt"
	"math"

	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/domain"
)

// frame is the `df` binding: a thin wrapper keeping the script-visible API
// stable regardless of the dataset implementation underneath. Methods
// returning an error throw inside the runtime when the error is non-nil.
type frame struct {
	ds *dataset.Dataset
}

func newFrame(ds *dataset.Dataset) *frame { return &frame{ds: ds} }

func (f *frame) Columns() []string            { return f.ds.Columns() }
func (f *frame) Rows() int                    { return f.ds.Rows() }
func (f *frame) Cols() int                    { return f.ds.Cols() }
func (f *frame) Schema() []dataset.ColumnInfo { return f.ds.Schema() }
func (f *frame) Info() string                 { return f.ds.Info() }
func (f *frame) Describe() string             { return f.ds.Describe() }
func (f *frame) Head(n int) string            { return f.ds.Head(n) }

func (f *frame) Values(col string) ([]float64, error)  { return f.ds.Values(col) }
func (f *frame) Records(col string) ([]string, error)  { return f.ds.Records(col) }
func (f *frame) Mean(col string) (float64, error)      { return f.ds.Mean(col) }
func (f *frame) Median(col string) (float64, error)    { return f.ds.Median(col) }
func (f *frame) Min(col string) (float64, error)       { return f.ds.Min(col) }
func (f *frame) Max(col string) (float64, error)       { return f.ds.Max(col) }
func (f *frame) Stddev(col string) (float64, error)    { return f.ds.StdDev(col) }
func (f *frame) Correlation(a, b string) (float64, error) {
	return f.ds.Correlation(a, b)
}

func (f *frame) ValueCounts(col string) ([]dataset.ValueCount, error) {
	return f.ds.ValueCounts(col)
}

func (f *frame) GroupBy(group, value, agg string) ([]dataset.GroupStat, error) {
	return f.ds.GroupBy(group, value, agg)
}

func (f *frame) Filter(col, op string, value any) (*frame, error) {
	filtered, err := f.ds.Filter(col, op, value)
	if err != nil {
		return nil, err
	}
	return newFrame(filtered), nil
}

// chartBuilder is what the plot helpers return. The script assigns one to
// fig/figure; the executor captures it from scope after the run.
type chartBuilder struct {
	chart domain.Chart
}

func (b *chartBuilder) Title(t string) *chartBuilder {
	b.chart.Title = t
	return b
}

func (b *chartBuilder) Xlabel(l string) *chartBuilder {
	b.chart.XLabel = l
	return b
}

func (b *chartBuilder) Ylabel(l string) *chartBuilder {
	b.chart.YLabel = l
	return b
}

// plotAPI is the `plot` binding: declarative chart constructors only, no
// rendering or display capability.
type plotAPI struct{}

func (plotAPI) Bar(x []any, y []float64) *chartBuilder {
	return &chartBuilder{chart: domain.Chart{Type: "bar", X: stringify(x), Y: y}}
}

func (plotAPI) Line(x []any, y []float64) *chartBuilder {
	return &chartBuilder{chart: domain.Chart{Type: "line", X: stringify(x), Y: y}}
}

func (plotAPI) Scatter(x []any, y []float64) *chartBuilder {
	return &chartBuilder{chart: domain.Chart{Type: "scatter", X: stringify(x), Y: y}}
}

// Hist buckets values into ten equal-width bins.
func (plotAPI) Hist(values []float64) *chartBuilder {
	const bins = 10
	lo, hi := math.Inf(1), math.Inf(-1)
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		n++
	}
	c := domain.Chart{Type: "hist"}
	if n == 0 {
		return &chartBuilder{chart: c}
	}
	width := (hi - lo) / bins
	if width == 0 {
		c.X = []string{fmt.Sprintf("%.4g", lo)}
		c.Y = []float64{float64(n)}
		return &chartBuilder{chart: c}
	}
	counts := make([]float64, bins)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	labels := make([]string, bins)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.4g-%.4g", lo+float64(i)*width, lo+float64(i+1)*width)
	}
	c.X = labels
	c.Y = counts
	return &chartBuilder{chart: c}
}

func (plotAPI) Box(values []float64) *chartBuilder {
	return &chartBuilder{chart: domain.Chart{Type: "box", Y: values}}
}

func (plotAPI) Heatmap(matrix [][]float64) *chartBuilder {
	c := domain.Chart{Type: "heatmap"}
	for i, row := range matrix {
		c.Series = append(c.Series, domain.Series{
			Name: fmt.Sprintf("row %d", i),
			Y:    row,
		})
	}
	return &chartBuilder{chart: c}
}

// statsAPI is the `stats` binding.
type statsAPI struct{}

func (statsAPI) Sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func (statsAPI) Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return statsAPI{}.Sum(xs) / float64(len(xs))
}

func (statsAPI) Round(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(x*p) / p
}

func stringify(xs []any) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		switch v := x.(type) {
		case float64:
			out[i] = fmt.Sprintf("%g", v)
		case int64:
			out[i] = fmt.Sprintf("%d", v)
		default:
			out[i] = fmt.Sprint(x)
		}
	}
	return out
}
