// Package meshlib is the in-process processing backend. It reads OBJ, STL and glTF
// sources, writes GLB, and renders previews with a small software rasteriser.
package meshlib

import (
	"math"
)

type Vec3 [3]float64

func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a Vec3) Scale(s float64) Vec3 {
	return Vec3{a[0] * s, a[1] * s, a[2] * s}
}
func (a Vec3) Dot(b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}
func (a Vec3) Len() float64 { return math.Sqrt(a.Dot(a)) }

func (a Vec3) Normalize() Vec3 {
	l := a.Len()
	if l == 0 {
		return a
	}
	return a.Scale(1 / l)
}

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Positions []Vec3
	Faces     [][3]int
	// HasUV is true when the source carried texture coordinates.
	HasUV   bool
	Objects int
}

func (m *Mesh) FaceCount() int   { return len(m.Faces) }
func (m *Mesh) VertexCount() int { return len(m.Positions) }

// Bounds returns the axis-aligned bounding box. An empty mesh yields two zero vectors.
func (m *Mesh) Bounds() (Vec3, Vec3) {
	if len(m.Positions) == 0 {
		return Vec3{}, Vec3{}
	}
	lo, hi := m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = math.Min(lo[i], p[i])
			hi[i] = math.Max(hi[i], p[i])
		}
	}
	return lo, hi
}

func (m *Mesh) faceArea(f [3]int) float64 {
	a, b, c := m.Positions[f[0]], m.Positions[f[1]], m.Positions[f[2]]
	return b.Sub(a).Cross(c.Sub(a)).Len() / 2
}

func (m *Mesh) isDegenerate(f [3]int) bool {
	if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
		return true
	}
	return m.faceArea(f) <= 1e-12
}

type edge struct{ a, b int }

func makeEdge(a, b int) edge {
	if a > b {
		a, b = b, a
	}
	return edge{a, b}
}

// edgeUse counts how many faces share each undirected edge.
func (m *Mesh) edgeUse() map[edge]int {
	use := make(map[edge]int, len(m.Faces)*3/2)
	for _, f := range m.Faces {
		use[makeEdge(f[0], f[1])]++
		use[makeEdge(f[1], f[2])]++
		use[makeEdge(f[2], f[0])]++
	}
	return use
}

// nonManifoldEdges counts edges not shared by exactly two faces.
func (m *Mesh) nonManifoldEdges() int {
	n := 0
	for _, c := range m.edgeUse() {
		if c != 2 {
			n++
		}
	}
	return n
}

// IsWatertight reports whether every edge is shared by exactly two faces.
func (m *Mesh) IsWatertight() bool {
	return len(m.Faces) > 0 && m.nonManifoldEdges() == 0
}

func (m *Mesh) clone() *Mesh {
	return &Mesh{
		Positions: append([]Vec3(nil), m.Positions...),
		Faces:     append([][3]int(nil), m.Faces...),
		HasUV:     m.HasUV,
		Objects:   m.Objects,
	}
}

// compact drops vertices no face references and renumbers the faces.
func (m *Mesh) compact() int {
	remap := make([]int, len(m.Positions))
	for i := range remap {
		remap[i] = -1
	}
	kept := make([]Vec3, 0, len(m.Positions))
	for fi, f := range m.Faces {
		for k := 0; k < 3; k++ {
			v := f[k]
			if remap[v] < 0 {
				remap[v] = len(kept)
				kept = append(kept, m.Positions[v])
			}
			m.Faces[fi][k] = remap[v]
		}
	}
	removed := len(m.Positions) - len(kept)
	m.Positions = kept
	return removed
}
