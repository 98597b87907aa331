// Package quality computes per-page and per-document OCR quality metrics
// from token-level confidence data. Scoring is a pure function of its input:
// HIL corrections re-run it on the corrected page and must get identical
// results for identical tokens.
package quality

import (
	"math"
	"sort"

	"github.com/caselane/caselane/internal/geometry"
)

// lowConfCutoff is the token confidence below which a token contributes to a
// low-confidence region. Token confidences arrive in [-1,100]; -1 marks
// non-word tokens and is excluded from scoring entirely.
const lowConfCutoff = 80

// Token is a single OCR token with its confidence and position.
type Token struct {
	Text       string
	Confidence float64 // [-1,100]; -1 = non-word token
	BBox       geometry.BBox
}

// PageInput carries everything the scorer needs for one page.
type PageInput struct {
	Number      int
	Width       float64 // page width in the token coordinate unit
	Height      float64
	WidthInches float64 // physical width when known; 0 = unknown
	PixelWidth  int     // rendered raster width when OCR ran on an image
	DPIHint     int     // fallback DPI when no raster geometry is available
	Tokens      []Token
}

// Region is a contiguous run of low-confidence tokens unioned into one
// rectangle, sized for a single HIL transcription task.
type Region struct {
	BBox          geometry.BBox
	TokenCount    int
	MinConfidence float64
}

// PageReport is the scored output for one page.
type PageReport struct {
	Number         int
	Score          float64 // mean confidence of scoreable tokens, scaled to [0,1]
	TokenCount     int     // scoreable tokens only
	DPIEstimate    int
	TextCoverage   float64
	LowConfRegions []Region
}

// DocReport aggregates page reports into document-level metrics.
type DocReport struct {
	DocScore float64
	Pages    []PageReport
}

// Scorer bounds region output; everything else is fixed arithmetic.
type Scorer struct {
	MaxRegionsPerPage int
}

func NewScorer(maxRegionsPerPage int) *Scorer {
	if maxRegionsPerPage <= 0 {
		maxRegionsPerPage = 10
	}
	return &Scorer{MaxRegionsPerPage: maxRegionsPerPage}
}

// ScorePage computes the page score, coverage, DPI estimate and
// low-confidence regions for a single page.
func (s *Scorer) ScorePage(in PageInput) PageReport {
	rep := PageReport{Number: in.Number, DPIEstimate: estimateDPI(in)}

	var confSum float64
	var areaSum float64
	for _, t := range in.Tokens {
		if t.Confidence < 0 {
			continue
		}
		rep.TokenCount++
		confSum += t.Confidence
		areaSum += t.BBox.Area()
	}
	if rep.TokenCount > 0 {
		rep.Score = confSum / float64(rep.TokenCount) / 100
	}

	if pageArea := in.Width * in.Height; pageArea > 0 {
		rep.TextCoverage = math.Min(areaSum/pageArea, 1)
	}

	rep.LowConfRegions = s.lowConfRegions(in.Tokens)
	return rep
}

// ScoreDocument scores every page and weights the document score by each
// page's scoreable token count.
func (s *Scorer) ScoreDocument(pages []PageInput) DocReport {
	var rep DocReport
	rep.Pages = make([]PageReport, 0, len(pages))

	var weighted float64
	var tokens int
	for _, p := range pages {
		pr := s.ScorePage(p)
		rep.Pages = append(rep.Pages, pr)
		weighted += pr.Score * float64(pr.TokenCount)
		tokens += pr.TokenCount
	}
	if tokens > 0 {
		rep.DocScore = weighted / float64(tokens)
	}
	return rep
}

// lowConfRegions groups adjacent low-confidence word tokens into contiguous
// runs, unions each run's boxes, and keeps the highest-impact runs first so
// task volume stays bounded.
func (s *Scorer) lowConfRegions(tokens []Token) []Region {
	var regions []Region
	var cur *Region

	flush := func() {
		if cur != nil {
			regions = append(regions, *cur)
			cur = nil
		}
	}

	for _, t := range tokens {
		if t.Confidence < 0 || t.Confidence >= lowConfCutoff {
			flush()
			continue
		}
		if cur == nil {
			cur = &Region{BBox: t.BBox, TokenCount: 1, MinConfidence: t.Confidence}
			continue
		}
		cur.BBox = cur.BBox.Union(t.BBox)
		cur.TokenCount++
		if t.Confidence < cur.MinConfidence {
			cur.MinConfidence = t.Confidence
		}
	}
	flush()

	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].TokenCount != regions[j].TokenCount {
			return regions[i].TokenCount > regions[j].TokenCount
		}
		return regions[i].BBox.Area() > regions[j].BBox.Area()
	})
	if len(regions) > s.MaxRegionsPerPage {
		regions = regions[:s.MaxRegionsPerPage]
	}
	return regions
}

func estimateDPI(in PageInput) int {
	if in.PixelWidth > 0 && in.WidthInches > 0 {
		return int(math.Round(float64(in.PixelWidth) / in.WidthInches))
	}
	return in.DPIHint
}
