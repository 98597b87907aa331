// Package validate checks extraction candidates against structural and
// provenance rules before they are allowed to emit.
package validate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/geometry"
)

// Plausible date window for extracted dates.
const (
	minYear = 1900
	maxYear = 2100
)

// Failure is one typed rejection reason with human-readable detail.
type Failure struct {
	Reason constants.TaskReason `json:"reason"`
	Detail string               `json:"detail"`
}

// Result collects every failure found in one pass.
type Result struct {
	Failures []Failure `json:"failures,omitempty"`
}

func (r Result) OK() bool { return len(r.Failures) == 0 }

// Reasons returns the distinct reason codes, in first-seen order.
func (r Result) Reasons() []constants.TaskReason {
	seen := map[constants.TaskReason]struct{}{}
	var out []constants.TaskReason
	for _, f := range r.Failures {
		if _, ok := seen[f.Reason]; ok {
			continue
		}
		seen[f.Reason] = struct{}{}
		out = append(out, f.Reason)
	}
	return out
}

// PageDims is the page rectangle a fact's bbox must lie within.
type PageDims struct {
	Width  float64
	Height float64
}

// Fact is one extracted element with its provenance.
type Fact struct {
	Name    string
	Page    *int // 1-based
	BBox    *geometry.BBox
	Derived bool    // explicitly computed, exempt from provenance checks
	Date    *string // checked for plausibility when set
	Amount  *string // checked for parseability when set
}

// TableStat summarizes how a table-derived region parsed.
type TableStat struct {
	Name           string
	HeaderCoverage float64
	RowsTotal      int
	RowsFailed     int
	CellsTotal     int
	CellsFailed    int
}

// Candidate is a Lane-A output (or applier input) under validation.
type Candidate struct {
	DocType         string
	ExtractedFields json.RawMessage
	PageCount       int
	Pages           map[int]PageDims // keyed by 1-based page number
	Facts           []Fact
	Tables          []TableStat
}

// Validator applies the check sequence of the routing contract. It collects
// all failures it can detect in one pass rather than short-circuiting.
type Validator struct {
	dict              *Dictionary
	tableFailRatio    float64
	minHeaderCoverage float64
	logger            *slog.Logger
}

func NewValidator(dict *Dictionary, tableFailRatio float64, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if tableFailRatio <= 0 {
		tableFailRatio = 0.40
	}
	return &Validator{
		dict:              dict,
		tableFailRatio:    tableFailRatio,
		minHeaderCoverage: 0.50,
		logger:            logger,
	}
}

// Validate runs all checks and returns every failure found.
func (v *Validator) Validate(c Candidate) Result {
	var res Result

	v.checkSchema(c, &res)
	v.checkProvenance(c, &res)
	v.checkPlausibility(c, &res)
	v.checkTables(c, &res)

	if !res.OK() {
		v.logger.Info("validator.rejected", "doc_type", c.DocType, "failures", len(res.Failures))
	}
	return res
}

func (v *Validator) checkSchema(c Candidate, res *Result) {
	if len(c.ExtractedFields) == 0 {
		return
	}
	var data any
	if err := json.Unmarshal(c.ExtractedFields, &data); err != nil {
		res.Failures = append(res.Failures, Failure{
			Reason: constants.ReasonSchemaViolation,
			Detail: fmt.Sprintf("extracted_fields is not valid JSON: %v", err),
		})
		return
	}
	if err := v.dict.SchemaFor(c.DocType).Validate(data); err != nil {
		res.Failures = append(res.Failures, Failure{
			Reason: constants.ReasonSchemaViolation,
			Detail: err.Error(),
		})
	}
}

func (v *Validator) checkProvenance(c Candidate, res *Result) {
	for _, f := range c.Facts {
		if f.Derived {
			continue
		}
		if f.Page == nil || f.BBox == nil {
			res.Failures = append(res.Failures, Failure{
				Reason: constants.ReasonMissingProvenance,
				Detail: fmt.Sprintf("fact %q has no page/bbox and is not flagged derived", f.Name),
			})
		}
	}
}

func (v *Validator) checkPlausibility(c Candidate, res *Result) {
	for _, f := range c.Facts {
		if f.Date != nil {
			if !plausibleDate(*f.Date) {
				res.Failures = append(res.Failures, Failure{
					Reason: constants.ReasonSchemaViolation,
					Detail: fmt.Sprintf("fact %q date %q outside %d-%d or malformed", f.Name, *f.Date, minYear, maxYear),
				})
			}
		}
		if f.Amount != nil {
			if !parseableAmount(*f.Amount) {
				res.Failures = append(res.Failures, Failure{
					Reason: constants.ReasonSchemaViolation,
					Detail: fmt.Sprintf("fact %q amount %q is not numeric", f.Name, *f.Amount),
				})
			}
		}
		if f.Page != nil {
			if *f.Page < 1 || *f.Page > c.PageCount {
				res.Failures = append(res.Failures, Failure{
					Reason: constants.ReasonBadBBox,
					Detail: fmt.Sprintf("fact %q page %d outside document (%d pages)", f.Name, *f.Page, c.PageCount),
				})
				continue
			}
			if f.BBox != nil {
				dims, ok := c.Pages[*f.Page]
				if ok && !f.BBox.Within(dims.Width, dims.Height) {
					res.Failures = append(res.Failures, Failure{
						Reason: constants.ReasonBadBBox,
						Detail: fmt.Sprintf("fact %q bbox outside page %d bounds", f.Name, *f.Page),
					})
				}
			}
		}
	}
}

func (v *Validator) checkTables(c Candidate, res *Result) {
	for _, t := range c.Tables {
		if t.HeaderCoverage <= v.minHeaderCoverage {
			res.Failures = append(res.Failures, Failure{
				Reason: constants.ReasonTableParseFail,
				Detail: fmt.Sprintf("table %q header coverage %.2f below required", t.Name, t.HeaderCoverage),
			})
			continue
		}
		if failRatio(t.RowsFailed, t.RowsTotal) > v.tableFailRatio ||
			failRatio(t.CellsFailed, t.CellsTotal) > v.tableFailRatio {
			res.Failures = append(res.Failures, Failure{
				Reason: constants.ReasonTableParseFail,
				Detail: fmt.Sprintf("table %q parse failures exceed %.0f%% of rows/cells", t.Name, v.tableFailRatio*100),
			})
		}
	}
}

func failRatio(failed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func plausibleDate(s string) bool {
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return false
	}
	y := d.Year()
	return y >= minYear && y <= maxYear
}

func parseableAmount(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
