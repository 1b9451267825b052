package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gonum.org/v1/plot/vg"

	"scholar/pkg/api"
	"scholar/pkg/tools"
)

type comparisonArgs struct {
	Data1 map[string]any `json:"data1" jsonschema_description:"First dataset with metrics and name"`
	Data2 map[string]any `json:"data2" jsonschema_description:"Second dataset with metrics and name"`
	Title string         `json:"title,omitempty" jsonschema:"default=Performance Comparison" jsonschema_description:"Chart title"`
}

// Comparison contrasts two datasets on their shared metrics and attaches a
// grouped bar chart when rendering succeeds.
type Comparison struct {
	params   map[string]any
	required []string
}

func NewComparison() *Comparison {
	params, required := tools.ReflectParameters(comparisonArgs{})
	return &Comparison{params: params, required: required}
}

func (t *Comparison) Name() string {
	return "create_performance_comparison"
}

func (t *Comparison) Description() string {
	return "Create a visual performance comparison chart between two technologies when meaningful quantitative metrics are available."
}

func (t *Comparison) Parameters() map[string]any {
	return t.params
}

func (t *Comparison) RequiredParameters() []string {
	return t.required
}

func (t *Comparison) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	var parsed comparisonArgs
	if err := tools.DecodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.Title == "" {
		parsed.Title = "Performance Comparison"
	}

	name1 := datasetName(parsed.Data1, "Method 1")
	name2 := datasetName(parsed.Data2, "Method 2")
	metrics1 := numericMetrics(datasetMetrics(parsed.Data1))
	metrics2 := numericMetrics(datasetMetrics(parsed.Data2))

	// Shared metric names, sorted so the analysis and chart are stable.
	var common []string
	for name := range metrics1 {
		if _, ok := metrics2[name]; ok {
			common = append(common, name)
		}
	}
	if len(common) == 0 {
		return nil, errors.New("No common metrics found for comparison")
	}
	sort.Strings(common)

	points := make([]string, 0, len(common))
	values1 := make([]float64, 0, len(common))
	values2 := make([]float64, 0, len(common))
	for _, metric := range common {
		v1, v2 := metrics1[metric], metrics2[metric]
		switch {
		case v1 > v2:
			points = append(points, fmt.Sprintf("%s performs better in %s", name1, metric))
		case v2 > v1:
			points = append(points, fmt.Sprintf("%s performs better in %s", name2, metric))
		default:
			points = append(points, fmt.Sprintf("Similar performance in %s", metric))
		}
		values1 = append(values1, v1)
		values2 = append(values2, v2)
	}

	payload := map[string]any{
		"analysis":         strings.Join(points, " | "),
		"title":            parsed.Title,
		"metrics_compared": len(common),
		"data1_name":       name1,
		"data2_name":       name2,
		"chart_data":       nil,
		"has_chart":        false,
	}

	// A failed render degrades to a text-only comparison.
	groups := []chartSeries{{name: name1, values: values1}, {name: name2, values: values2}}
	encoded, err := renderGroupedBars(parsed.Title, "Metrics", "Performance Values", common, groups, 10*vg.Inch, 6*vg.Inch)
	if err != nil {
		slog.Warn("⚠️ Comparison chart rendering failed", "error", err)
	} else {
		payload["chart_data"] = map[string]any{
			"metrics":      common,
			"values1":      values1,
			"values2":      values2,
			"chart_base64": encoded,
		}
		payload["has_chart"] = true
	}

	return &api.ToolResult{Payload: payload}, nil
}

func datasetName(data map[string]any, fallback string) string {
	if name, ok := data["name"].(string); ok && name != "" {
		return name
	}
	return fallback
}

func datasetMetrics(data map[string]any) map[string]any {
	if metrics, ok := data["metrics"].(map[string]any); ok {
		return metrics
	}
	return nil
}
