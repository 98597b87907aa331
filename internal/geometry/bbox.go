package geometry

import "math"

// BBox is an axis-aligned rectangle in page coordinates (origin top-left,
// units are whatever the token source emitted — pixels for OCR, points for
// native text layers).
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

func NewBBox(x, y, width, height float64) BBox {
	return BBox{X: x, Y: y, Width: width, Height: height}
}

func (b BBox) Left() float64   { return b.X }
func (b BBox) Right() float64  { return b.X + b.Width }
func (b BBox) Top() float64    { return b.Y }
func (b BBox) Bottom() float64 { return b.Y + b.Height }

func (b BBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// IsZero reports whether the box carries no geometry at all.
func (b BBox) IsZero() bool {
	return b.X == 0 && b.Y == 0 && b.Width == 0 && b.Height == 0
}

// Union returns the smallest box covering both b and other.
func (b BBox) Union(other BBox) BBox {
	if b.IsZero() {
		return other
	}
	if other.IsZero() {
		return b
	}
	x := math.Min(b.Left(), other.Left())
	y := math.Min(b.Top(), other.Top())
	right := math.Max(b.Right(), other.Right())
	bottom := math.Max(b.Bottom(), other.Bottom())
	return BBox{X: x, Y: y, Width: right - x, Height: bottom - y}
}

// Within reports whether b lies fully inside the page rectangle
// (0,0)-(pageWidth,pageHeight).
func (b BBox) Within(pageWidth, pageHeight float64) bool {
	if b.Width < 0 || b.Height < 0 {
		return false
	}
	return b.Left() >= 0 && b.Top() >= 0 &&
		b.Right() <= pageWidth && b.Bottom() <= pageHeight
}
