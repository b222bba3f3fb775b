package shape

import "math"

const (
	rectTolerance   = 10.0
	ringTolerance   = 12.0
	strokeTolerance = 7.0
)

// Near 判断点 (x, y) 是否落在图形的可选中区域
func Near(s Shape, x, y float64) bool {
	switch g := s.Geom.(type) {
	case Rect:
		return nearRect(g, x, y)
	case Circle:
		d := math.Hypot(x-g.CenterX, y-g.CenterY)
		return d > g.Radius-ringTolerance && d < g.Radius+ringTolerance
	case Ellipse:
		inner := ellipseValue(g, x, y, -ringTolerance)
		outer := ellipseValue(g, x, y, ringTolerance)
		return outer <= 0 && inner > 0
	case Line:
		return segmentDistance(x, y, g.SX, g.SY, g.EX, g.EY) <= strokeTolerance
	case Arrow:
		return segmentDistance(x, y, g.SX, g.SY, g.EX, g.EY) <= strokeTolerance
	case Freehand:
		for _, p := range g.Points {
			if math.Hypot(p.X-x, p.Y-y) < strokeTolerance {
				return true
			}
		}
		return false
	case Text:
		return x >= g.X && x <= g.X+g.Width && y >= g.Y && y <= g.Y+g.Height
	case Tombstone:
		return false
	}
	return false
}

func nearRect(r Rect, x, y float64) bool {
	const e = rectTolerance
	insideX := x-e > r.X && x+e < r.X+r.Width
	insideY := y-e > r.Y && y+e < r.Y+r.Height
	top := math.Abs(y-r.Y) <= e && insideX
	bottom := math.Abs(y-(r.Y+r.Height)) <= e && insideX
	left := math.Abs(x-r.X) <= e && insideY
	right := math.Abs(x-(r.X+r.Width)) <= e && insideY
	return top || bottom || left || right
}

// 椭圆方程值，<=0 表示在（半径扩张 delta 后的）椭圆内
func ellipseValue(g Ellipse, x, y, delta float64) float64 {
	rx, ry := g.RX+delta, g.RY+delta
	if rx <= 0 || ry <= 0 {
		return 1
	}
	dx, dy := (x-g.CenterX)/rx, (y-g.CenterY)/ry
	return dx*dx + dy*dy - 1
}

func segmentDistance(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}
