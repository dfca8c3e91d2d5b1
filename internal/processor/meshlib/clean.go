package meshlib

import (
	"math"

	"github.com/megaartsstore/renderpipe/pkg/models"
)

// weldTolerance is relative to the largest bounding-box extent.
const weldTolerance = 1e-6

// Clean merges coincident vertices, drops degenerate and duplicate faces and
// removes vertices no face references. m is modified in place.
func Clean(m *Mesh) models.CleanReport {
	var report models.CleanReport

	lo, hi := m.Bounds()
	extent := math.Max(hi[0]-lo[0], math.Max(hi[1]-lo[1], hi[2]-lo[2]))
	cell := extent * weldTolerance
	if cell <= 0 {
		cell = weldTolerance
	}

	type key [3]int64
	canonical := make(map[key]int, len(m.Positions))
	remap := make([]int, len(m.Positions))
	for i, p := range m.Positions {
		k := key{int64(math.Round(p[0] / cell)), int64(math.Round(p[1] / cell)), int64(math.Round(p[2] / cell))}
		if first, ok := canonical[k]; ok {
			remap[i] = first
			report.MergedVertices++
			continue
		}
		canonical[k] = i
		remap[i] = i
	}

	seen := make(map[[3]int]struct{}, len(m.Faces))
	faces := m.Faces[:0]
	for _, f := range m.Faces {
		f = [3]int{remap[f[0]], remap[f[1]], remap[f[2]]}
		if m.isDegenerate(f) {
			report.RemovedFaces++
			continue
		}
		k := sortedFace(f)
		if _, dup := seen[k]; dup {
			report.RemovedFaces++
			continue
		}
		seen[k] = struct{}{}
		faces = append(faces, f)
	}
	m.Faces = faces

	// merged vertices are unreferenced now, count only the ones that were orphaned before
	report.RemovedVertices = m.compact() - report.MergedVertices
	if report.RemovedVertices < 0 {
		report.RemovedVertices = 0
	}
	return report
}

func sortedFace(f [3]int) [3]int {
	if f[0] > f[1] {
		f[0], f[1] = f[1], f[0]
	}
	if f[1] > f[2] {
		f[1], f[2] = f[2], f[1]
	}
	if f[0] > f[1] {
		f[0], f[1] = f[1], f[0]
	}
	return f
}
