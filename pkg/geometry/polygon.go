package geometry

import (
	"cmp"
	"slices"
)

// ConvexHull returns the convex hull of points in counter-clockwise order
// (monotone chain). Collinear boundary points are dropped.
func ConvexHull(points []Point2D) []Point2D {
	if len(points) < 3 {
		return slices.Clone(points)
	}

	pts := slices.Clone(points)
	slices.SortFunc(pts, func(a, b Point2D) int {
		if c := cmp.Compare(a.X, b.X); c != 0 {
			return c
		}
		return cmp.Compare(a.Y, b.Y)
	})
	pts = slices.Compact(pts)
	if len(pts) < 3 {
		return pts
	}

	hull := make([]Point2D, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && crossProduct(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && crossProduct(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	return hull[:len(hull)-1]
}

// PointInPolygon tests if a point is inside a polygon using ray casting.
func PointInPolygon(p Point2D, polygon []Point2D) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := polygon[i], polygon[j]
		if (a.Y > p.Y) == (b.Y > p.Y) {
			continue
		}
		xCross := a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
		if p.X < xCross {
			inside = !inside
		}
	}

	return inside
}

// crossProduct computes the cross product of vectors OA and OB.
func crossProduct(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
