package coverage

import (
	"sort"
)

// hullNode is a vertex of the hull ring. Each node also stands for the edge
// from itself to next.
type hullNode struct {
	p          int
	prev, next *hullNode
}

// ConcaveHull wraps points in a concave polygon. It starts from the convex hull
// and repeatedly bends an edge a->b inwards to the closest remaining point p
// when min(|pa|², |pb|²) <= |ab|²/concavity² and the new edges cross nothing.
// Higher concavity stays closer to the convex hull. The returned ring is closed.
func ConcaveHull(points []Point, concavity float64) []Point {
	pts := uniquePoints(points)
	if len(pts) < 3 {
		return closeRing(pts)
	}
	if concavity < 0 {
		concavity = 0
	}
	sqConcavity := concavity * concavity

	h := &concaveHull{pts: pts, used: make([]bool, len(pts))}

	var first, last *hullNode
	var queue []*hullNode
	for _, idx := range convexHullIndices(pts) {
		h.used[idx] = true
		last = h.insert(idx, last)
		if first == nil {
			first = last
		}
		queue = append(queue, last)
	}
	h.head = first

	for len(queue) > 0 {
		node := queue[0]
		queue[0] = nil
		queue = queue[1:]

		a, b := node.p, node.next.p
		sqLen := sqDist(pts[a], pts[b])
		maxSqLen := sqLen / sqConcavity // +Inf when concavity is 0

		p, ok := h.findCandidate(node.prev.p, a, b, node.next.next.p, maxSqLen)
		if !ok {
			continue
		}
		if min(sqDist(pts[p], pts[a]), sqDist(pts[p], pts[b])) > maxSqLen {
			continue
		}

		h.used[p] = true
		queue = append(queue, node, h.insert(p, node))
	}

	ring := make([]Point, 0, len(pts)+1)
	node := h.head
	for {
		ring = append(ring, pts[node.p])
		node = node.next
		if node == h.head {
			break
		}
	}
	return closeRing(ring)
}

type concaveHull struct {
	pts  []Point
	used []bool
	head *hullNode
}

// insert adds p to the ring after prev, or starts the ring when prev is nil
func (h *concaveHull) insert(p int, prev *hullNode) *hullNode {
	node := &hullNode{p: p}
	if prev == nil {
		node.prev = node
		node.next = node
		return node
	}
	node.next = prev.next
	node.prev = prev
	prev.next.prev = node
	prev.next = node
	return node
}

type candidate struct {
	p    int
	dist float64
}

// findCandidate returns the unused point closest to edge b-c that is closer to
// it than to the neighbouring edges a-b and c-d, and whose connection to b and c
// does not cross the ring
func (h *concaveHull) findCandidate(a, b, c, d int, maxDist float64) (int, bool) {
	var candidates []candidate
	for i, used := range h.used {
		if used {
			continue
		}
		if dist := sqSegDist(h.pts[i], h.pts[b], h.pts[c]); dist <= maxDist {
			candidates = append(candidates, candidate{p: i, dist: dist})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].p < candidates[j].p
	})

	for _, cand := range candidates {
		pt := h.pts[cand.p]
		d0 := sqSegDist(pt, h.pts[a], h.pts[b])
		d1 := sqSegDist(pt, h.pts[c], h.pts[d])
		if cand.dist < d0 && cand.dist < d1 &&
			h.noIntersections(b, cand.p) && h.noIntersections(c, cand.p) {
			return cand.p, true
		}
	}
	return 0, false
}

// noIntersections reports whether segment a-b crosses no ring edge. Edges
// sharing an endpoint with a-b do not count.
func (h *concaveHull) noIntersections(a, b int) bool {
	node := h.head
	for {
		if h.intersects(node.p, node.next.p, a, b) {
			return false
		}
		node = node.next
		if node == h.head {
			return true
		}
	}
}

func (h *concaveHull) intersects(p1, q1, p2, q2 int) bool {
	if p1 == q2 || q1 == p2 {
		return false
	}
	a, b, c, d := h.pts[p1], h.pts[q1], h.pts[p2], h.pts[q2]
	return (orient(a, b, c) > 0) != (orient(a, b, d) > 0) &&
		(orient(c, d, a) > 0) != (orient(c, d, b) > 0)
}

// convexHullIndices returns the indices of the convex hull of pts in ring
// order using the monotone chain algorithm
func convexHullIndices(pts []Point) []int {
	order := make([]int, len(pts))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := pts[order[i]], pts[order[j]]
		if a.Lat == b.Lat {
			return a.Lon < b.Lon
		}
		return a.Lat < b.Lat
	})

	cross := func(o, a, b Point) float64 {
		return (a.Lat-o.Lat)*(b.Lon-o.Lon) - (a.Lon-o.Lon)*(b.Lat-o.Lat)
	}

	n := len(order)
	lower := make([]int, 0, n)
	for _, i := range order {
		for len(lower) >= 2 && cross(pts[lower[len(lower)-2]], pts[lower[len(lower)-1]], pts[i]) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, i)
	}

	upper := make([]int, 0, n)
	for k := n - 1; k >= 0; k-- {
		i := order[k]
		for len(upper) >= 2 && cross(pts[upper[len(upper)-2]], pts[upper[len(upper)-1]], pts[i]) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, i)
	}

	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

func orient(p, r, q Point) float64 {
	return (q.Lon-p.Lon)*(r.Lat-q.Lat) - (q.Lat-p.Lat)*(r.Lon-q.Lon)
}

func sqDist(a, b Point) float64 {
	dx := a.Lat - b.Lat
	dy := a.Lon - b.Lon
	return dx*dx + dy*dy
}

// sqSegDist is the squared distance from p to segment a-b
func sqSegDist(p, a, b Point) float64 {
	x, y := a.Lat, a.Lon
	dx, dy := b.Lat-x, b.Lon-y

	if dx != 0 || dy != 0 {
		t := ((p.Lat-x)*dx + (p.Lon-y)*dy) / (dx*dx + dy*dy)
		if t > 1 {
			x, y = b.Lat, b.Lon
		} else if t > 0 {
			x += dx * t
			y += dy * t
		}
	}

	dx = p.Lat - x
	dy = p.Lon - y
	return dx*dx + dy*dy
}

func uniquePoints(points []Point) []Point {
	seen := make(map[Point]bool, len(points))
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func closeRing(ring []Point) []Point {
	if len(ring) == 0 {
		return []Point{}
	}
	return append(ring, ring[0])
}
