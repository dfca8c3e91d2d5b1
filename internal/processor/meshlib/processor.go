package meshlib

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"go.uber.org/zap"
)

// Validation limits.
const (
	MaxFaces     = 100000
	WarnFaces    = 50000
	thumbAzimuth = 45
	// camera height used for every still, in degrees above the horizon
	viewElevation = 25
)

// Processor implements models.ModelProcessor without any external tool.
type Processor struct {
	logger *zap.Logger
}

func NewProcessor(logger *zap.Logger) *Processor {
	return &Processor{logger: logger.Named("meshlib")}
}

func (p *Processor) Name() string { return "meshlib" }

func (p *Processor) Validate(ctx context.Context, inputPath string) (models.ValidationReport, error) {
	if err := ctx.Err(); err != nil {
		return models.ValidationReport{}, err
	}
	report := models.ValidationReport{Issues: []string{}, Warnings: []string{}}

	m, err := Load(inputPath)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("Cannot read model: %v", err))
		return report, nil
	}
	report.Stats = models.MeshStats{Faces: m.FaceCount(), Vertices: m.VertexCount(), Objects: m.Objects}

	switch {
	case m.FaceCount() == 0:
		report.Issues = append(report.Issues, "No mesh geometry found")
	case m.FaceCount() > MaxFaces:
		report.Issues = append(report.Issues, fmt.Sprintf("Polygon count too high: %d (max: %d)", m.FaceCount(), MaxFaces))
	case m.FaceCount() > WarnFaces:
		report.Warnings = append(report.Warnings, fmt.Sprintf("High polygon count: %d", m.FaceCount()))
	}

	if m.FaceCount() > 0 {
		if n := m.nonManifoldEdges(); n > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Non-manifold geometry: %d edges", n))
		}
		degenerate := 0
		for _, f := range m.Faces {
			if m.isDegenerate(f) {
				degenerate++
			}
		}
		if degenerate > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Degenerate faces: %d", degenerate))
		}
		if !m.HasUV {
			report.Warnings = append(report.Warnings, "No UV map found")
		}
	}

	report.Valid = len(report.Issues) == 0
	return report, nil
}

func (p *Processor) Clean(ctx context.Context, inputPath, outputPath string) (models.CleanReport, error) {
	m, err := p.load(ctx, "clean", inputPath)
	if err != nil {
		return models.CleanReport{}, err
	}
	report := Clean(m)
	if err := SaveGLB(m, outputPath); err != nil {
		return models.CleanReport{}, models.NewProcessingError("clean", err)
	}
	p.logger.Debug("cleaned mesh",
		zap.Int("merged_vertices", report.MergedVertices),
		zap.Int("removed_faces", report.RemovedFaces),
		zap.Int("removed_vertices", report.RemovedVertices))
	return report, nil
}

func (p *Processor) Optimize(ctx context.Context, inputPath, outputPath string, targetFaces int) (models.OptimizationStats, error) {
	m, err := p.load(ctx, "optimize", inputPath)
	if err != nil {
		return models.OptimizationStats{}, err
	}
	out, err := Decimate(ctx, m, targetFaces)
	if err != nil {
		return models.OptimizationStats{}, models.NewProcessingError("optimize", err)
	}
	if err := SaveGLB(out, outputPath); err != nil {
		return models.OptimizationStats{}, models.NewProcessingError("optimize", err)
	}

	stats := models.OptimizationStats{
		OriginalFaces:     m.FaceCount(),
		OptimizedFaces:    out.FaceCount(),
		OriginalVertices:  m.VertexCount(),
		OptimizedVertices: out.VertexCount(),
	}
	if stats.OriginalFaces > 0 {
		reduction := float64(stats.OriginalFaces-stats.OptimizedFaces) / float64(stats.OriginalFaces) * 100
		stats.ReductionPercentage = math.Round(reduction*100) / 100
	}
	return stats, nil
}

func (p *Processor) RenderThumbnail(ctx context.Context, modelPath, outputPath string, res models.Resolution) error {
	m, err := p.load(ctx, "render thumbnail", modelPath)
	if err != nil {
		return err
	}
	img, err := Render(ctx, m, View{Azimuth: thumbAzimuth, Elevation: viewElevation}, res)
	if err != nil {
		return models.NewProcessingError("render thumbnail", err)
	}
	if err := imaging.Save(img, outputPath); err != nil {
		return models.NewProcessingError("render thumbnail", err)
	}
	return nil
}

func (p *Processor) RenderTurnaround(ctx context.Context, modelPath, outputDir string, angles []float64, res models.Resolution) ([]string, error) {
	m, err := p.load(ctx, "render turnaround", modelPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, models.NewProcessingError("render turnaround", err)
	}

	paths := make([]string, 0, len(angles))
	for i, angle := range angles {
		img, err := Render(ctx, m, View{Azimuth: angle, Elevation: viewElevation}, res)
		if err != nil {
			return nil, models.NewProcessingError("render turnaround", err)
		}
		out := filepath.Join(outputDir, fmt.Sprintf("360_%d_%g.png", i, angle))
		if err := imaging.Save(img, out); err != nil {
			return nil, models.NewProcessingError("render turnaround", err)
		}
		paths = append(paths, out)
	}
	return paths, nil
}

func (p *Processor) ExtractAlignment(ctx context.Context, modelPath string) (models.AlignmentReport, error) {
	m, err := p.load(ctx, "extract alignment", modelPath)
	if err != nil {
		return models.AlignmentReport{}, err
	}
	return Alignment(m), nil
}

// Alignment measures m in model units.
func Alignment(m *Mesh) models.AlignmentReport {
	lo, hi := m.Bounds()
	size := hi.Sub(lo)
	center := lo.Add(hi).Scale(0.5)
	return models.AlignmentReport{
		Width:        size[0],
		Height:       size[1],
		Depth:        size[2],
		Center:       center,
		BoundsMin:    lo,
		BoundsMax:    hi,
		FaceCount:    m.FaceCount(),
		VertexCount:  m.VertexCount(),
		IsWatertight: m.IsWatertight(),
	}
}

func (p *Processor) load(ctx context.Context, stage, path string) (*Mesh, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := Load(path)
	if err != nil {
		return nil, models.NewProcessingError(stage, err)
	}
	return m, nil
}

var _ models.ModelProcessor = (*Processor)(nil)
