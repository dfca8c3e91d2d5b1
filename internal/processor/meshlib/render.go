package meshlib

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/megaartsstore/renderpipe/pkg/models"
)

const (
	fieldOfView   = 40 * math.Pi / 180
	supersample   = 2
	ambientLight  = 0.25
	cameraPadding = 1.15
)

var (
	background = color.NRGBA{R: 245, G: 245, B: 245, A: 255}
	baseColor  = Vec3{212, 175, 55}
	lightDir   = Vec3{0.3, 0.5, 1}.Normalize()
)

// View places the camera. The model is turned by Azimuth about the vertical axis and
// viewed from Elevation degrees above the horizon. Framing depends only on the mesh,
// so frames rendered with different azimuths line up.
type View struct {
	Azimuth   float64
	Elevation float64
}

// Render rasterises m into an image of the given size.
func Render(ctx context.Context, m *Mesh, view View, res models.Resolution) (image.Image, error) {
	w, h := res.Width*supersample, res.Height*supersample
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = background.R, background.G, background.B, background.A
	}

	lo, hi := m.Bounds()
	center := lo.Add(hi).Scale(0.5)
	radius := hi.Sub(lo).Len() / 2
	if radius == 0 || len(m.Faces) == 0 {
		return imaging.Resize(img, res.Width, res.Height, imaging.Box), nil
	}

	distance := cameraPadding * radius / math.Sin(fieldOfView/2)
	focal := float64(min(w, h)) / 2 / math.Tan(fieldOfView/2)
	rot := rotation(view)

	proj := make([]Vec3, len(m.Positions))
	for i, p := range m.Positions {
		c := rot.apply(p.Sub(center))
		z := distance - c[2]
		proj[i] = Vec3{float64(w)/2 + focal*c[0]/z, float64(h)/2 - focal*c[1]/z, z}
	}

	depth := make([]float64, w*h)
	for i := range depth {
		depth[i] = math.Inf(1)
	}

	for fi, f := range m.Faces {
		if fi%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		a, b, c := m.Positions[f[0]], m.Positions[f[1]], m.Positions[f[2]]
		n := rot.apply(b.Sub(a).Cross(c.Sub(a))).Normalize()
		shade := ambientLight + (1-ambientLight)*math.Abs(n.Dot(lightDir))
		col := color.NRGBA{
			R: uint8(math.Min(255, baseColor[0]*shade)),
			G: uint8(math.Min(255, baseColor[1]*shade)),
			B: uint8(math.Min(255, baseColor[2]*shade)),
			A: 255,
		}
		rasterize(img, depth, proj[f[0]], proj[f[1]], proj[f[2]], col)
	}

	return imaging.Resize(img, res.Width, res.Height, imaging.Lanczos), nil
}

func rasterize(img *image.NRGBA, depth []float64, p0, p1, p2 Vec3, col color.NRGBA) {
	if p0[2] <= 0 || p1[2] <= 0 || p2[2] <= 0 {
		return
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	minX := max(0, int(math.Floor(math.Min(p0[0], math.Min(p1[0], p2[0])))))
	maxX := min(w-1, int(math.Ceil(math.Max(p0[0], math.Max(p1[0], p2[0])))))
	minY := max(0, int(math.Floor(math.Min(p0[1], math.Min(p1[1], p2[1])))))
	maxY := min(h-1, int(math.Ceil(math.Max(p0[1], math.Max(p1[1], p2[1])))))
	if minX > maxX || minY > maxY {
		return
	}

	area := edgeFn(p0, p1, p2[0], p2[1])
	if area == 0 {
		return
	}
	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			w0 := edgeFn(p1, p2, px, py) / area
			w1 := edgeFn(p2, p0, px, py) / area
			w2 := 1 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*p0[2] + w1*p1[2] + w2*p2[2]
			i := y*w + x
			if z >= depth[i] {
				continue
			}
			depth[i] = z
			img.SetNRGBA(x, y, col)
		}
	}
}

func edgeFn(a, b Vec3, x, y float64) float64 {
	return (b[0]-a[0])*(y-a[1]) - (b[1]-a[1])*(x-a[0])
}

type mat3 [3]Vec3

func (m mat3) apply(v Vec3) Vec3 {
	return Vec3{m[0].Dot(v), m[1].Dot(v), m[2].Dot(v)}
}

func (m mat3) mul(o mat3) mat3 {
	var out mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = m[r][0]*o[0][c] + m[r][1]*o[1][c] + m[r][2]*o[2][c]
		}
	}
	return out
}

// rotation turns the model about Y by the azimuth, then tilts it about X so the
// camera looks down from the elevation angle.
func rotation(v View) mat3 {
	az := v.Azimuth * math.Pi / 180
	el := v.Elevation * math.Pi / 180
	yaw := mat3{
		{math.Cos(az), 0, math.Sin(az)},
		{0, 1, 0},
		{-math.Sin(az), 0, math.Cos(az)},
	}
	pitch := mat3{
		{1, 0, 0},
		{0, math.Cos(el), -math.Sin(el)},
		{0, math.Sin(el), math.Cos(el)},
	}
	return pitch.mul(yaw)
}
