package spatial

import "math"

// Point is a 2D scene position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceBetween returns the euclidean distance between two points.
func DistanceBetween(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Scope is a circular region of interest around a point. Recomputation after
// a movement event only fans out to entities inside the mover's scope.
type Scope struct {
	Center Point
	Radius float64
}

// NewScope builds a scope around center. A non-positive radius means
// unbounded: every point is in scope.
func NewScope(center Point, radius float64) Scope {
	return Scope{Center: center, Radius: radius}
}

// Contains reports whether p falls inside the scope.
func (s Scope) Contains(p Point) bool {
	if s.Radius <= 0 {
		return true
	}
	dx := p.X - s.Center.X
	dy := p.Y - s.Center.Y
	return dx*dx+dy*dy <= s.Radius*s.Radius
}
