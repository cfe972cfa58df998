package grounding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verahub/vera-core/internal/contextstore"
)

func records() []contextstore.Record {
	return []contextstore.Record{
		{ID: "r1", Kind: contextstore.KindPersonalFact, Key: "name", Value: "Alice"},
		{ID: "r2", Kind: contextstore.KindPersonalFact, Key: "favorite color", Value: "green"},
	}
}

func TestValidateSupportedClaim(t *testing.T) {
	v := New(nil)

	anns := v.Validate("Your name is Alice.", records())

	require.Len(t, anns, 1)
	assert.Equal(t, VerdictSupported, anns[0].Verdict)
	assert.Contains(t, anns[0].RecordIDs, "r1")
}

func TestValidateConflictingClaim(t *testing.T) {
	v := New(nil)

	anns := v.Validate("Your name is Bob.", records())

	require.Len(t, anns, 1)
	assert.Equal(t, VerdictUnsupported, anns[0].Verdict)
	assert.Equal(t, []string{"r1"}, anns[0].RecordIDs)
}

func TestValidateUnknownClaim(t *testing.T) {
	v := New(nil)

	anns := v.Validate("The weather tomorrow looks sunny.", records())

	// One claim annotation plus the context-unused flag: no record was used.
	require.Len(t, anns, 2)
	assert.Equal(t, VerdictUnknown, anns[0].Verdict)
	assert.Empty(t, anns[0].RecordIDs)
	assert.Equal(t, VerdictContextUnused, anns[1].Verdict)
}

func TestValidateContextUnusedNotFlaggedWhenUsed(t *testing.T) {
	v := New(nil)

	anns := v.Validate("Your name is Alice. The sky is big.", records())

	require.Len(t, anns, 2)
	for _, ann := range anns {
		assert.NotEqual(t, VerdictContextUnused, ann.Verdict)
	}
}

func TestValidateEmptyContext(t *testing.T) {
	v := New(nil)

	anns := v.Validate("Hello there!", nil)

	require.Len(t, anns, 1)
	assert.Equal(t, VerdictUnknown, anns[0].Verdict)
}

func TestValidateMultipleClaims(t *testing.T) {
	v := New(nil)

	anns := v.Validate("Your name is Alice. Your favorite color is red.", records())

	require.Len(t, anns, 2)
	assert.Equal(t, VerdictSupported, anns[0].Verdict)
	assert.Equal(t, VerdictUnsupported, anns[1].Verdict, "color claim conflicts with stored green")
}

func TestValidateNeverEditsReply(t *testing.T) {
	v := New(nil)

	reply := "Your name is Bob."
	_ = v.Validate(reply, records())

	// Annotations are advisory; the validator never returns modified text.
	assert.Equal(t, "Your name is Bob.", reply)
}
