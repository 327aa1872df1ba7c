package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffOnlyChangedFieldsInOrder(t *testing.T) {
	before := NoteFields{Summary: "s1", Detail: "d1", Recommendation: "r1", RiskLevel: RiskLow}
	after := NoteFields{Summary: "s1", Detail: "d2", Recommendation: "r1", RiskLevel: RiskHigh}

	got := Diff(before, after)

	assert.Equal(t, []FieldChange{
		{Field: FieldDetail, OldValue: "d1", NewValue: "d2"},
		{Field: FieldRiskLevel, OldValue: "low", NewValue: "high"},
	}, got)
}

func TestDiffNoChangeIsEmptyNotNil(t *testing.T) {
	fields := NoteFields{Summary: "same", RiskLevel: RiskMedium}
	got := Diff(fields, fields)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDiffRoundTrip(t *testing.T) {
	snapshots := []NoteFields{
		{},
		{Summary: "a"},
		{Summary: "a", Detail: "b", Recommendation: "c", RiskLevel: RiskCritical},
		{Summary: "", Detail: "b", Recommendation: "", RiskLevel: RiskLow},
		{Summary: "a\nb", Detail: "ünïcode", Recommendation: "c", RiskLevel: RiskMedium},
	}

	for i, before := range snapshots {
		for j, after := range snapshots {
			replayed, err := ApplyDiff(before, Diff(before, after))
			require.NoError(t, err, "%d -> %d", i, j)
			assert.Equal(t, after, replayed, "%d -> %d", i, j)
		}
	}
}

func TestApplyDiffRejectsStaleBase(t *testing.T) {
	changes := []FieldChange{{Field: FieldSummary, OldValue: "x", NewValue: "y"}}
	_, err := ApplyDiff(NoteFields{Summary: "z"}, changes)
	assert.Error(t, err)

	_, err = ApplyDiff(NoteFields{}, []FieldChange{{Field: "unknown"}})
	assert.Error(t, err)
}
