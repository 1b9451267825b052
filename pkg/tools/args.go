package tools

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeArgs maps a validated argument map onto a typed args struct. The
// struct's json tags double as the decode keys, so the schema reflection and
// the decoding always agree on field names. Weak typing absorbs the
// float64-vs-int mismatch JSON numbers bring along.
func DecodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build args decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
