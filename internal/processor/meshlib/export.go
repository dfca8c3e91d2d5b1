package meshlib

import (
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// SaveGLB writes m as a single-mesh binary glTF with positions, flat-friendly
// per-vertex normals and 32-bit indices.
func SaveGLB(m *Mesh, path string) error {
	doc := gltf.NewDocument()
	doc.Asset.Generator = "renderpipe meshlib"

	positions := make([][3]float32, len(m.Positions))
	for i, p := range m.Positions {
		positions[i] = [3]float32{float32(p[0]), float32(p[1]), float32(p[2])}
	}
	normals := vertexNormals(m)
	indices := make([]uint32, 0, len(m.Faces)*3)
	for _, f := range m.Faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	attrs := gltf.Attribute{}
	if len(positions) > 0 {
		attrs[gltf.POSITION] = modeler.WritePosition(doc, positions)
		attrs[gltf.NORMAL] = modeler.WriteNormal(doc, normals)
	}
	prim := &gltf.Primitive{Attributes: attrs, Mode: gltf.PrimitiveTriangles}
	if len(indices) > 0 {
		prim.Indices = gltf.Index(modeler.WriteIndices(doc, indices))
	}

	doc.Meshes = []*gltf.Mesh{{Name: "model", Primitives: []*gltf.Primitive{prim}}}
	doc.Nodes = []*gltf.Node{{Name: "model", Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	if err := gltf.SaveBinary(doc, path); err != nil {
		return fmt.Errorf("save glb: %w", err)
	}
	return nil
}

// vertexNormals averages area-weighted face normals onto their vertices.
func vertexNormals(m *Mesh) [][3]float32 {
	acc := make([]Vec3, len(m.Positions))
	for _, f := range m.Faces {
		a, b, c := m.Positions[f[0]], m.Positions[f[1]], m.Positions[f[2]]
		n := b.Sub(a).Cross(c.Sub(a))
		for _, v := range f {
			acc[v] = acc[v].Add(n)
		}
	}
	out := make([][3]float32, len(acc))
	for i, n := range acc {
		n = n.Normalize()
		if n.Len() == 0 {
			n = Vec3{0, 1, 0}
		}
		out[i] = [3]float32{float32(n[0]), float32(n[1]), float32(n[2])}
	}
	return out
}
