package meshlib

import (
	"context"
	"math"
)

// Decimate reduces m toward targetFaces by vertex clustering on a uniform grid.
// The grid is coarsened until the face count is at or below the target. A mesh
// already at or under the target is returned unchanged (as a copy).
func Decimate(ctx context.Context, m *Mesh, targetFaces int) (*Mesh, error) {
	if targetFaces <= 0 || m.FaceCount() <= targetFaces {
		return m.clone(), nil
	}

	// a closed surface on an r^3 grid has roughly 4r^2 triangles
	res := int(math.Sqrt(float64(targetFaces)/4)) + 2
	var out *Mesh
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = cluster(m, res)
		if out.FaceCount() <= targetFaces || res <= 1 {
			return out, nil
		}
		next := int(float64(res) * 0.85)
		if next >= res {
			next = res - 1
		}
		res = next
	}
}

// cluster snaps every vertex to a grid of res cells along the longest axis and
// replaces each occupied cell with the mean of its vertices.
func cluster(m *Mesh, res int) *Mesh {
	lo, hi := m.Bounds()
	extent := math.Max(hi[0]-lo[0], math.Max(hi[1]-lo[1], hi[2]-lo[2]))
	cell := extent / float64(res)
	if cell <= 0 {
		return m.clone()
	}

	type key [3]int
	cellIndex := make(map[key]int)
	var sums []Vec3
	var counts []int
	remap := make([]int, len(m.Positions))
	for i, p := range m.Positions {
		k := key{
			int((p[0] - lo[0]) / cell),
			int((p[1] - lo[1]) / cell),
			int((p[2] - lo[2]) / cell),
		}
		ci, ok := cellIndex[k]
		if !ok {
			ci = len(sums)
			cellIndex[k] = ci
			sums = append(sums, Vec3{})
			counts = append(counts, 0)
		}
		sums[ci] = sums[ci].Add(p)
		counts[ci]++
		remap[i] = ci
	}

	out := &Mesh{HasUV: false, Objects: m.Objects}
	out.Positions = make([]Vec3, len(sums))
	for i := range sums {
		out.Positions[i] = sums[i].Scale(1 / float64(counts[i]))
	}

	seen := make(map[[3]int]struct{}, len(m.Faces))
	for _, f := range m.Faces {
		nf := [3]int{remap[f[0]], remap[f[1]], remap[f[2]]}
		if nf[0] == nf[1] || nf[1] == nf[2] || nf[0] == nf[2] {
			continue
		}
		k := sortedFace(nf)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out.Faces = append(out.Faces, nf)
	}
	out.compact()
	return out
}
