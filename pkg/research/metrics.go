package research

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"scholar/pkg/api"
	"scholar/pkg/tools"
)

// metricPatterns captures the numeric figures the extractor understands.
// Matching runs on lowercased text and the first hit per metric wins.
var metricPatterns = map[string]*regexp.Regexp{
	"accuracy":       regexp.MustCompile(`accuracy[:\s]*([0-9]+\.?[0-9]*)[%]?`),
	"speed":          regexp.MustCompile(`speed[:\s]*([0-9]+\.?[0-9]*)`),
	"memory":         regexp.MustCompile(`memory[:\s]*([0-9]+\.?[0-9]*)`),
	"parameters":     regexp.MustCompile(`parameters?[:\s]*([0-9]+\.?[0-9]*)[MBK]?`),
	"training_time":  regexp.MustCompile(`training[:\s]*([0-9]+\.?[0-9]*)`),
	"inference_time": regexp.MustCompile(`inference[:\s]*([0-9]+\.?[0-9]*)`),
}

// ExtractMetricValues scans text for known performance figures using the
// default patterns.
func ExtractMetricValues(text string) map[string]float64 {
	return extractWith(metricPatterns, text)
}

func extractWith(patterns map[string]*regexp.Regexp, text string) map[string]float64 {
	lower := strings.ToLower(text)
	metrics := make(map[string]float64)
	for name, pattern := range patterns {
		match := pattern.FindStringSubmatch(lower)
		if len(match) < 2 {
			continue
		}
		if value, err := strconv.ParseFloat(match[1], 64); err == nil {
			metrics[name] = value
		}
	}
	return metrics
}

type extractMetricsArgs struct {
	Text       string `json:"text" jsonschema_description:"Text containing performance information"`
	Technology string `json:"technology" jsonschema_description:"Name of the technology being analyzed"`
}

// ExtractMetrics pulls numeric performance figures out of free text.
type ExtractMetrics struct {
	patterns map[string]*regexp.Regexp
	params   map[string]any
	required []string
}

func NewExtractMetrics() *ExtractMetrics {
	params, required := tools.ReflectParameters(extractMetricsArgs{})
	return &ExtractMetrics{patterns: metricPatterns, params: params, required: required}
}

// NewExtractMetricsWithPatterns compiles replacement patterns, each needing
// one numeric capture group. Used when system.json overrides the defaults.
func NewExtractMetricsWithPatterns(raw map[string]string) (*ExtractMetrics, error) {
	if len(raw) == 0 {
		return NewExtractMetrics(), nil
	}
	patterns := make(map[string]*regexp.Regexp, len(raw))
	for name, expr := range raw {
		compiled, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid metric pattern %q: %w", name, err)
		}
		if compiled.NumSubexp() < 1 {
			return nil, fmt.Errorf("metric pattern %q has no capture group", name)
		}
		patterns[name] = compiled
	}
	tool := NewExtractMetrics()
	tool.patterns = patterns
	return tool, nil
}

func (t *ExtractMetrics) Name() string {
	return "extract_performance_metrics"
}

func (t *ExtractMetrics) Description() string {
	return "Extract numerical performance metrics (accuracy, speed, memory, etc.) from text when quantitative data is available for analysis."
}

func (t *ExtractMetrics) Parameters() map[string]any {
	return t.params
}

func (t *ExtractMetrics) RequiredParameters() []string {
	return t.required
}

func (t *ExtractMetrics) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	var parsed extractMetricsArgs
	if err := tools.DecodeArgs(args, &parsed); err != nil {
		return nil, err
	}

	metrics := extractWith(t.patterns, parsed.Text)

	return &api.ToolResult{
		Payload: map[string]any{
			"name":               parsed.Technology,
			"metrics":            metrics,
			"source_text_length": len(parsed.Text),
			"metrics_found":      len(metrics),
		},
	}, nil
}
