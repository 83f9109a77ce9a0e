package detection

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cast"

	apperrors "github.com/menta2k/vision-detect/internal/errors"
	"github.com/menta2k/vision-detect/pkg/types"
)

const (
	jsonFenceOpen = "```json"
	fence         = "```"
)

// ExtractJSON unwraps a ```json fenced block from raw model output.
// Text without a json fence line is returned unchanged. Whitespace around
// the fence line and the body is ignored, since models often indent both.
func ExtractJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != jsonFenceOpen {
			continue
		}
		body := strings.Join(lines[i+1:], "\n")
		if end := strings.Index(body, fence); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return raw
}

// ParseResult parses the model's JSON payload into a DetectionResult.
// Missing or mistyped fields default to empty values; only text that is not a
// JSON object yields an error of kind parse.
func ParseResult(jsonText string) (*types.DetectionResult, error) {
	var payload map[string]interface{}
	if err := sonic.UnmarshalString(jsonText, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.KindParse, "parse_result", "model output is not a JSON object", err)
	}
	if payload == nil {
		return nil, apperrors.New(apperrors.KindParse, "parse_result", "model output is null")
	}

	result := &types.DetectionResult{
		Answer:     cast.ToString(payload["answer"]),
		Detections: []types.Detection{},
	}

	entries, _ := payload["detections"].([]interface{})
	for _, entry := range entries {
		result.Detections = append(result.Detections, parseDetection(entry))
	}

	return result, nil
}

// parseDetection reads one detection entry. Entries that are not objects keep
// their slot with an empty box so palette indices stay aligned with input order.
func parseDetection(entry interface{}) types.Detection {
	fields, ok := entry.(map[string]interface{})
	if !ok {
		return types.Detection{}
	}

	raw, found := fields["bbox_2d"]
	if !found {
		raw = fields["bbox"]
	}

	return types.Detection{
		BBox:  parseBBox(raw),
		Label: cast.ToString(fields["label"]),
	}
}

func parseBBox(raw interface{}) types.BBox {
	values, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	box := make(types.BBox, 0, len(values))
	for _, v := range values {
		if v == nil {
			return nil
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil
		}
		box = append(box, f)
	}
	return box
}

// FormatAnswer renders a result as a short log-friendly summary
func FormatAnswer(r *types.DetectionResult) string {
	labels := make([]string, 0, len(r.Detections))
	for _, d := range r.Detections {
		labels = append(labels, d.Label)
	}
	return fmt.Sprintf("answer=%q detections=%d labels=%v", r.Answer, len(r.Detections), labels)
}
