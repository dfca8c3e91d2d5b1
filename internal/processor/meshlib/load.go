package meshlib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/megaartsstore/renderpipe/pkg/models"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// Load reads a mesh from disk, choosing the decoder from the file extension.
func Load(path string) (*Mesh, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return parseOBJ(f)
	case ".stl":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return parseSTL(data)
	case ".glb", ".gltf":
		return loadGLTF(path)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func parseOBJ(r io.Reader) (*Mesh, error) {
	m := &Mesh{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj line %d: vertex needs 3 coordinates", line)
			}
			var p Vec3
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("obj line %d: %w", line, err)
				}
				p[i] = f
			}
			m.Positions = append(m.Positions, p)
		case "vt":
			m.HasUV = true
		case "o", "g":
			m.Objects++
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj line %d: face needs at least 3 vertices", line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				v, err := objIndex(ref, len(m.Positions))
				if err != nil {
					return nil, fmt.Errorf("obj line %d: %w", line, err)
				}
				idx = append(idx, v)
			}
			// fan triangulation
			for i := 1; i+1 < len(idx); i++ {
				m.Faces = append(m.Faces, [3]int{idx[0], idx[i], idx[i+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read obj: %w", err)
	}
	if m.Objects == 0 && len(m.Positions) > 0 {
		m.Objects = 1
	}
	return m, nil
}

// objIndex resolves "v", "v/vt" or "v/vt/vn" (1-based, negative counts from the end).
func objIndex(ref string, count int) (int, error) {
	head, _, _ := strings.Cut(ref, "/")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("bad face index %q", ref)
	}
	switch {
	case n > 0 && n <= count:
		return n - 1, nil
	case n < 0 && -n <= count:
		return count + n, nil
	}
	return 0, fmt.Errorf("face index %d out of range", n)
}

func parseSTL(data []byte) (*Mesh, error) {
	if len(data) >= 84 {
		n := binary.LittleEndian.Uint32(data[80:84])
		if uint64(len(data)) == 84+uint64(n)*50 {
			return parseBinarySTL(data[84:], int(n)), nil
		}
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("solid")) {
		return parseASCIISTL(trimmed)
	}
	return nil, errors.New("stl: neither binary nor ascii layout")
}

func parseBinarySTL(body []byte, n int) *Mesh {
	w := newWelder(n * 3)
	for i := 0; i < n; i++ {
		tri := body[i*50 : i*50+50]
		var f [3]int
		for k := 0; k < 3; k++ {
			off := 12 + k*12
			f[k] = w.add(Vec3{
				float64(math.Float32frombits(binary.LittleEndian.Uint32(tri[off:]))),
				float64(math.Float32frombits(binary.LittleEndian.Uint32(tri[off+4:]))),
				float64(math.Float32frombits(binary.LittleEndian.Uint32(tri[off+8:]))),
			})
		}
		w.faces = append(w.faces, f)
	}
	return w.mesh()
}

func parseASCIISTL(data []byte) (*Mesh, error) {
	w := newWelder(0)
	var pending []int
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "vertex":
			if len(fields) < 4 {
				return nil, errors.New("stl: vertex needs 3 coordinates")
			}
			var p Vec3
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("stl: %w", err)
				}
				p[i] = f
			}
			pending = append(pending, w.add(p))
		case "endfacet":
			if len(pending) != 3 {
				return nil, fmt.Errorf("stl: facet with %d vertices", len(pending))
			}
			w.faces = append(w.faces, [3]int{pending[0], pending[1], pending[2]})
			pending = pending[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stl: %w", err)
	}
	return w.mesh(), nil
}

// welder joins bit-identical positions so triangle soup becomes an indexed mesh.
type welder struct {
	index     map[Vec3]int
	positions []Vec3
	faces     [][3]int
}

func newWelder(hint int) *welder {
	return &welder{index: make(map[Vec3]int, hint)}
}

func (w *welder) add(p Vec3) int {
	if i, ok := w.index[p]; ok {
		return i
	}
	w.index[p] = len(w.positions)
	w.positions = append(w.positions, p)
	return len(w.positions) - 1
}

func (w *welder) mesh() *Mesh {
	m := &Mesh{Positions: w.positions, Faces: w.faces}
	if len(m.Positions) > 0 {
		m.Objects = 1
	}
	return m
}

// loadGLTF flattens the default scene into one mesh in world space. Every node
// that references a mesh contributes its own transformed copy. Documents without
// scenes fall back to each mesh once, untransformed.
func loadGLTF(path string) (*Mesh, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}

	local := make([]*Mesh, len(doc.Meshes))
	meshAt := func(i uint32) (*Mesh, error) {
		if int(i) >= len(doc.Meshes) {
			return nil, fmt.Errorf("gltf node references missing mesh %d", i)
		}
		if local[i] == nil {
			gm, err := readGLTFMesh(doc, doc.Meshes[i])
			if err != nil {
				return nil, err
			}
			local[i] = gm
		}
		return local[i], nil
	}

	m := &Mesh{}
	if len(doc.Scenes) == 0 {
		for i := range doc.Meshes {
			gm, err := meshAt(uint32(i))
			if err != nil {
				return nil, err
			}
			m.appendInstance(gm, identity)
		}
		return m, nil
	}

	scene := 0
	if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
		scene = int(*doc.Scene)
	}
	var walk func(idx uint32, parent mat4, depth int) error
	walk = func(idx uint32, parent mat4, depth int) error {
		if int(idx) >= len(doc.Nodes) {
			return fmt.Errorf("gltf scene references missing node %d", idx)
		}
		if depth > len(doc.Nodes) {
			return errors.New("gltf node hierarchy has a cycle")
		}
		node := doc.Nodes[idx]
		world := parent.mul(nodeMatrix(node))
		if node.Mesh != nil {
			gm, err := meshAt(*node.Mesh)
			if err != nil {
				return err
			}
			m.appendInstance(gm, world)
		}
		for _, child := range node.Children {
			if err := walk(child, world, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range doc.Scenes[scene].Nodes {
		if err := walk(root, identity, 0); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// readGLTFMesh reads the triangle primitives of one mesh in its local space.
func readGLTFMesh(doc *gltf.Document, gm *gltf.Mesh) (*Mesh, error) {
	m := &Mesh{Objects: 1}
	for _, prim := range gm.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles {
			continue
		}
		posIdx, ok := prim.Attributes[gltf.POSITION]
		if !ok {
			continue
		}
		if _, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
			m.HasUV = true
		}
		positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
		if err != nil {
			return nil, fmt.Errorf("read positions: %w", err)
		}
		base := len(m.Positions)
		for _, p := range positions {
			m.Positions = append(m.Positions, Vec3{float64(p[0]), float64(p[1]), float64(p[2])})
		}

		var indices []uint32
		if prim.Indices != nil {
			indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
			if err != nil {
				return nil, fmt.Errorf("read indices: %w", err)
			}
		} else {
			indices = make([]uint32, len(positions))
			for i := range indices {
				indices[i] = uint32(i)
			}
		}
		for i := 0; i+2 < len(indices); i += 3 {
			if int(max(indices[i], indices[i+1], indices[i+2])) >= len(positions) {
				return nil, fmt.Errorf("gltf index out of range in mesh %q", gm.Name)
			}
			m.Faces = append(m.Faces, [3]int{
				base + int(indices[i]), base + int(indices[i+1]), base + int(indices[i+2]),
			})
		}
	}
	return m, nil
}

// appendInstance adds a copy of src transformed by world.
func (m *Mesh) appendInstance(src *Mesh, world mat4) {
	base := len(m.Positions)
	for _, p := range src.Positions {
		m.Positions = append(m.Positions, world.apply(p))
	}
	for _, f := range src.Faces {
		m.Faces = append(m.Faces, [3]int{base + f[0], base + f[1], base + f[2]})
	}
	m.HasUV = m.HasUV || src.HasUV
	m.Objects += src.Objects
}
