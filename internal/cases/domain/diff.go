package domain

import "fmt"

// Tracked note fields in diff order.
const (
	FieldSummary        = "summary"
	FieldDetail         = "detail"
	FieldRecommendation = "recommendation"
	FieldRiskLevel      = "risk_level"
)

var trackedFields = []string{FieldSummary, FieldDetail, FieldRecommendation, FieldRiskLevel}

// FieldChange is one entry of a note diff.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// NoteFields is the diffable part of a consultation note.
type NoteFields struct {
	Summary        string
	Detail         string
	Recommendation string
	RiskLevel      RiskLevel
}

func (f NoteFields) get(field string) string {
	switch field {
	case FieldSummary:
		return f.Summary
	case FieldDetail:
		return f.Detail
	case FieldRecommendation:
		return f.Recommendation
	case FieldRiskLevel:
		return string(f.RiskLevel)
	}
	return ""
}

func (f *NoteFields) set(field, value string) error {
	switch field {
	case FieldSummary:
		f.Summary = value
	case FieldDetail:
		f.Detail = value
	case FieldRecommendation:
		f.Recommendation = value
	case FieldRiskLevel:
		f.RiskLevel = RiskLevel(value)
	default:
		return fmt.Errorf("unknown note field %q", field)
	}
	return nil
}

// Diff compares two snapshots and returns the changed fields in tracked order.
// The result is never nil; no changes yields an empty slice.
func Diff(before, after NoteFields) []FieldChange {
	changes := make([]FieldChange, 0, len(trackedFields))
	for _, field := range trackedFields {
		oldValue, newValue := before.get(field), after.get(field)
		if oldValue != newValue {
			changes = append(changes, FieldChange{Field: field, OldValue: oldValue, NewValue: newValue})
		}
	}
	return changes
}

// ApplyDiff replays changes onto before. It fails when a change does not
// start from the value found in before.
func ApplyDiff(before NoteFields, changes []FieldChange) (NoteFields, error) {
	out := before
	for _, c := range changes {
		if current := out.get(c.Field); current != c.OldValue {
			return NoteFields{}, fmt.Errorf("field %s: expected %q, found %q", c.Field, c.OldValue, current)
		}
		if err := out.set(c.Field, c.NewValue); err != nil {
			return NoteFields{}, err
		}
	}
	return out, nil
}
