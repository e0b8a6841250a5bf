package engine

import (
	"encoding/json"

	"inferd/pkg/types"
)

var sentimentLabels = []string{"negative", "neutral", "positive"}

// postprocess shapes the raw backend output per task: score vectors get
// an argmax label and confidence; generation and embedding pass through.
func postprocess(resp *types.PredictResponse, cfg types.ModelConfig, output map[string]any, raw json.RawMessage) {
	resp.Predictions = raw
	switch cfg.Task {
	case types.TaskSentiment:
		if idx, val, ok := argmax(output["scores"]); ok && idx < len(sentimentLabels) {
			resp.Label = sentimentLabels[idx]
			resp.Confidence = val
		}
	case types.TaskClassification:
		if idx, val, ok := argmax(output["scores"]); ok {
			if idx < len(cfg.Labels) {
				resp.Label = cfg.Labels[idx]
			}
			resp.Confidence = val
		}
	}
}

// argmax extracts the max index/value from a score vector that may be
// []float64 (fresh backend output) or []any (decoded from cache JSON).
func argmax(v any) (int, float64, bool) {
	var scores []float64
	switch t := v.(type) {
	case []float64:
		scores = t
	case []any:
		for _, e := range t {
			f, ok := e.(float64)
			if !ok {
				return 0, 0, false
			}
			scores = append(scores, f)
		}
	default:
		return 0, 0, false
	}
	if len(scores) == 0 {
		return 0, 0, false
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best, scores[best], true
}
