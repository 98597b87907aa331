package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
)

// defaultObligationType is used when the extractor left the type blank.
const defaultObligationType = "unspecified"

// dueDateLayout is the only accepted due date format. Anything else is
// treated as absent, not as an error.
const dueDateLayout = "2006-01-02"

// Normalized is the canonical form of one obligation assertion. Descriptive
// strings are lower-cased with internal whitespace collapsed so that
// re-extractions differing only in spacing or case converge on one identity.
type Normalized struct {
	ObligationType string
	TriggerEvent   *string
	DueDate        *time.Time
	PartyName      *string
	Description    *string
	Status         constants.ObligationStatus
	NaturalKey     string
	Evidence       []EvidenceInput
}

// NormalizeObligation canonicalizes one payload obligation and computes its
// natural-key hash within the given document.
func NormalizeObligation(documentID uuid.UUID, in ObligationInput) Normalized {
	n := Normalized{
		ObligationType: normalizeText(in.ObligationType),
		TriggerEvent:   normalizeTextPtr(in.TriggerEvent),
		PartyName:      normalizeTextPtr(in.ResponsibleParty),
		Description:    normalizeTextPtr(in.Description),
		Evidence:       in.Evidence,
	}
	if n.ObligationType == "" {
		n.ObligationType = defaultObligationType
	}
	n.Status, _ = constants.CanonicalObligationStatus(in.Status)

	if in.DueDate != nil {
		if d, ok := parseDueDate(*in.DueDate); ok {
			n.DueDate = &d
		}
	}

	n.NaturalKey = naturalKey(documentID, n)
	return n
}

// naturalKey hashes the normalized identity tuple. Missing fields participate
// as empty strings so the hash is total over any input.
func naturalKey(documentID uuid.UUID, n Normalized) string {
	parts := []string{
		documentID.String(),
		n.ObligationType,
		deref(n.TriggerEvent),
		formatDueDate(n.DueDate),
		deref(n.PartyName),
		deref(n.Description),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:])
}

// parseDueDate accepts strict YYYY-MM-DD only. time.Parse round-trips the
// value, so out-of-range components like "2025-13-99" are rejected.
func parseDueDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) != len(dueDateLayout) {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(dueDateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func formatDueDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(dueDateLayout)
}

// normalizeText lower-cases and collapses internal whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeTextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := normalizeText(*s)
	if out == "" {
		return nil
	}
	return &out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
