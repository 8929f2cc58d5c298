package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"projecttracker/internal/model"
)

// EncodeSteps renders steps as the JSON text kept in the steps column.
// A nil slice encodes as "[]".
func EncodeSteps(steps []model.Step) (string, error) {
	if steps == nil {
		steps = []model.Step{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("encode steps: %w", err)
	}
	return string(b), nil
}

// DecodeSteps parses the steps column. An empty cell is an empty list.
func DecodeSteps(raw string) ([]model.Step, error) {
	steps := []model.Step{}
	if raw == "" {
		return steps, nil
	}
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if steps == nil {
		// the literal "null"
		steps = []model.Step{}
	}
	return steps, nil
}

// decodeStepsLenient degrades a malformed steps cell to an empty list so one
// bad row cannot block the whole load.
func decodeStepsLenient(logger *zap.Logger, backend, projectID, raw string) []model.Step {
	steps, err := DecodeSteps(raw)
	if err != nil {
		logger.Warn("Malformed steps column, loading project with no steps",
			zap.String("backend", backend),
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return []model.Step{}
	}
	return steps
}

var textEscaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`)

// escapeText protects carriage returns in free-text CSV cells: the csv
// reader folds a quoted "\r\n" into "\n", so CR is written as `\r` and
// backslash as `\\`.
func escapeText(s string) string {
	if !strings.ContainsAny(s, "\\\r") {
		return s
	}
	return textEscaper.Replace(s)
}

// unescapeText reverses escapeText. Any other backslash sequence is kept
// as written.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
