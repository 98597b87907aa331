package extract

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caselane/caselane/constants"
)

func strptr(s string) *string { return &s }

func TestNormalizeCollapsesWhitespaceAndCase(t *testing.T) {
	docID := uuid.New()
	a := NormalizeObligation(docID, ObligationInput{
		ObligationType:   "Fee_Payment",
		TriggerEvent:     strptr("  Upon   CLOSING  "),
		ResponsibleParty: strptr("Acme   LLC"),
		Description:      strptr("Pay the  fee"),
	})
	b := NormalizeObligation(docID, ObligationInput{
		ObligationType:   "fee_payment",
		TriggerEvent:     strptr("upon closing"),
		ResponsibleParty: strptr("acme llc"),
		Description:      strptr("pay the fee"),
	})
	assert.Equal(t, a.NaturalKey, b.NaturalKey)
	assert.Equal(t, "upon closing", *a.TriggerEvent)
}

func TestNormalizeHashIsDocumentScoped(t *testing.T) {
	in := ObligationInput{ObligationType: "notice"}
	a := NormalizeObligation(uuid.New(), in)
	b := NormalizeObligation(uuid.New(), in)
	assert.NotEqual(t, a.NaturalKey, b.NaturalKey)
}

func TestNormalizeDefaultsBlankType(t *testing.T) {
	n := NormalizeObligation(uuid.New(), ObligationInput{ObligationType: "   "})
	assert.Equal(t, "unspecified", n.ObligationType)
}

func TestNormalizeHashTotalOverMissingFields(t *testing.T) {
	n := NormalizeObligation(uuid.New(), ObligationInput{})
	assert.NotEmpty(t, n.NaturalKey)
	assert.Nil(t, n.TriggerEvent)
	assert.Nil(t, n.DueDate)
}

func TestNormalizeDueDate(t *testing.T) {
	n := NormalizeObligation(uuid.New(), ObligationInput{DueDate: strptr("2025-10-01")})
	require.NotNil(t, n.DueDate)
	assert.Equal(t, "2025-10-01", n.DueDate.Format("2006-01-02"))

	// malformed dates are dropped, not errors
	for _, bad := range []string{"2025-13-99", "10/01/2025", "2025-1-1", "soon", ""} {
		n := NormalizeObligation(uuid.New(), ObligationInput{DueDate: strptr(bad)})
		assert.Nil(t, n.DueDate, "input %q", bad)
	}
}

func TestNormalizeStatusFallsBackToOpen(t *testing.T) {
	n := NormalizeObligation(uuid.New(), ObligationInput{Status: "totally_new_status"})
	assert.Equal(t, constants.ObligationOpen, n.Status)

	n = NormalizeObligation(uuid.New(), ObligationInput{Status: "Satisfied"})
	assert.Equal(t, constants.ObligationSatisfied, n.Status)
}

func TestParsePayloadRejectsNonArrayObligations(t *testing.T) {
	_, err := ParsePayload([]byte(`{"doc_type":"psa","obligations":{"oops":true}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "obligations must be an array")

	p, err := ParsePayload([]byte(`{"doc_type":"psa","obligations":[]}`))
	require.NoError(t, err)
	assert.Empty(t, p.Obligations)
}
