package research

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"sort"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"scholar/pkg/api"
	"scholar/pkg/tools"
	"scholar/pkg/utils"
)

// seriesColors follows the matplotlib default cycle so charts keep a
// familiar look.
var seriesColors = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
}

type chartSeries struct {
	name   string
	values []float64
}

// renderGroupedBars draws one bar group per category and returns the PNG as
// a base64 string.
func renderGroupedBars(title, xLabel, yLabel string, categories []string, groups []chartSeries, width, height vg.Length) (string, error) {
	if len(categories) == 0 || len(groups) == 0 {
		return "", errors.New("nothing to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true

	barWidth := vg.Points(40) / vg.Length(len(groups))
	for i, group := range groups {
		bars, err := plotter.NewBarChart(plotter.Values(group.values), barWidth)
		if err != nil {
			return "", fmt.Errorf("failed to build bar chart: %w", err)
		}
		bars.LineStyle.Width = 0
		bars.Color = seriesColors[i%len(seriesColors)]
		bars.Offset = (vg.Length(i) - vg.Length(len(groups)-1)/2) * barWidth
		p.Add(bars)
		p.Legend.Add(group.name, bars)
	}
	p.NominalX(categories...)

	writer, err := p.WriterTo(width, height, "png")
	if err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("failed to encode chart: %w", err)
	}
	return utils.Base64Encode(buf.Bytes()), nil
}

type chartDataset struct {
	Name    string         `json:"name,omitempty" jsonschema_description:"Dataset name"`
	Metrics map[string]any `json:"metrics,omitempty" jsonschema_description:"Metric name to numeric value"`
}

type chartArgs struct {
	MetricsData []chartDataset `json:"metrics_data" jsonschema_description:"List of datasets with name and metrics for comparison"`
	Title       string         `json:"title,omitempty" jsonschema:"default=Performance Chart" jsonschema_description:"Chart title"`
}

// Chart renders a standalone grouped bar chart across two or more datasets.
type Chart struct {
	params   map[string]any
	required []string
}

func NewChart() *Chart {
	params, required := tools.ReflectParameters(chartArgs{})
	return &Chart{params: params, required: required}
}

func (t *Chart) Name() string {
	return "create_performance_chart"
}

func (t *Chart) Description() string {
	return "Create visual charts for performance comparisons when structured metrics data would benefit from visualization."
}

func (t *Chart) Parameters() map[string]any {
	return t.params
}

func (t *Chart) RequiredParameters() []string {
	return t.required
}

func (t *Chart) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	var parsed chartArgs
	if err := tools.DecodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.Title == "" {
		parsed.Title = "Performance Chart"
	}
	if len(parsed.MetricsData) < 2 {
		return nil, errors.New("Need at least 2 datasets to create comparison chart")
	}

	// Union of metric names across datasets, sorted for a stable axis.
	metricSet := make(map[string]bool)
	for _, dataset := range parsed.MetricsData {
		for name := range numericMetrics(dataset.Metrics) {
			metricSet[name] = true
		}
	}
	if len(metricSet) == 0 {
		return nil, errors.New("No metrics found in provided data")
	}
	metricNames := make([]string, 0, len(metricSet))
	for name := range metricSet {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)

	groups := make([]chartSeries, 0, len(parsed.MetricsData))
	for i, dataset := range parsed.MetricsData {
		name := dataset.Name
		if name == "" {
			name = fmt.Sprintf("Method %d", i+1)
		}
		metrics := numericMetrics(dataset.Metrics)
		values := make([]float64, len(metricNames))
		for j, metric := range metricNames {
			values[j] = metrics[metric]
		}
		groups = append(groups, chartSeries{name: name, values: values})
	}

	encoded, err := renderGroupedBars(parsed.Title, "Performance Metrics", "Values", metricNames, groups, 8*vg.Inch, 6*vg.Inch)
	if err != nil {
		return nil, fmt.Errorf("chart creation failed: %w", err)
	}

	return &api.ToolResult{
		Payload: map[string]any{
			"title":             parsed.Title,
			"chart_base64":      encoded,
			"metrics_included":  metricNames,
			"datasets_compared": len(parsed.MetricsData),
		},
	}, nil
}

// numericMetrics keeps the entries of a loose metrics map that carry usable
// numbers. Models occasionally send values as strings.
func numericMetrics(raw map[string]any) map[string]float64 {
	metrics := make(map[string]float64, len(raw))
	for name, value := range raw {
		if f, ok := toFloat(value); ok {
			metrics[name] = f
		}
	}
	return metrics
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
