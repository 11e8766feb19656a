package extractor

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/maestrokit/maestro/pkg/models"
)

type extractionEnvelope struct {
	ExtractedInfo []extractionEntry `json:"extracted_info"`
}

type extractionEntry struct {
	Key        string   `json:"key"`
	Value      any      `json:"value"`
	Confidence *float64 `json:"confidence"`
	Importance *float64 `json:"importance"`
}

// ParseExtractions parses model output into extraction entries. Strict JSON
// is tried first, tolerating prose around the outermost braces. When that
// fails, a line-based fallback handles models that answer in plain
// key/value blocks. Entries with an empty key are dropped; missing
// confidence defaults to 0 so the threshold filter discards them, missing
// importance defaults to 0.5.
func ParseExtractions(text string) []models.Extraction {
	if entries, ok := parseJSON(text); ok {
		return entries
	}
	return parseLines(text)
}

func parseJSON(text string) ([]models.Extraction, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var envelope extractionEnvelope
	if err := json.Unmarshal([]byte(text[start:end+1]), &envelope); err != nil {
		return nil, false
	}

	var out []models.Extraction
	for _, e := range envelope.ExtractedInfo {
		if e.Key == "" {
			continue
		}
		out = append(out, models.Extraction{
			Key:        e.Key,
			Value:      e.Value,
			Confidence: clamp01(deref(e.Confidence, 0)),
			Importance: clamp01(deref(e.Importance, 0.5)),
		})
	}
	return out, true
}

// parseLines reads blank-line separated blocks of "field: value" lines.
// Field names are matched case-insensitively.
func parseLines(text string) []models.Extraction {
	var (
		out     []models.Extraction
		current map[string]string
	)

	flush := func() {
		if current == nil {
			return
		}
		if key := current["key"]; key != "" {
			out = append(out, models.Extraction{
				Key:        key,
				Value:      current["value"],
				Confidence: clamp01(parseFloat(current["confidence"], 0)),
				Importance: clamp01(parseFloat(current["importance"], 0.5)),
			})
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		switch field {
		case "key", "value", "confidence", "importance":
			if current == nil {
				current = make(map[string]string, 4)
			}
			current[field] = strings.TrimSpace(value)
		}
	}
	flush()
	return out
}

func parseFloat(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func deref(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
