package mock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/megaartsstore/renderpipe/pkg/models"
)

// Stage names accepted by NewFailingProcessor and NewBlockingProcessor.
const (
	StageValidate   = "validate"
	StageClean      = "clean"
	StageOptimize   = "optimize"
	StageThumbnail  = "thumbnail"
	StageTurnaround = "turnaround"
	StageAlignment  = "alignment"
)

// MockProcessor satisfies models.ModelProcessor for testing.
type MockProcessor struct {
	Name_                string
	ValidateFunc         func(ctx context.Context, inputPath string) (models.ValidationReport, error)
	CleanFunc            func(ctx context.Context, inputPath, outputPath string) (models.CleanReport, error)
	OptimizeFunc         func(ctx context.Context, inputPath, outputPath string, targetFaces int) (models.OptimizationStats, error)
	RenderThumbnailFunc  func(ctx context.Context, modelPath, outputPath string, res models.Resolution) error
	RenderTurnaroundFunc func(ctx context.Context, modelPath, outputDir string, angles []float64, res models.Resolution) ([]string, error)
	ExtractAlignmentFunc func(ctx context.Context, modelPath string) (models.AlignmentReport, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockProcessor) Name() string { return m.Name_ }

// Calls returns the stages invoked so far, in order.
func (m *MockProcessor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockProcessor) record(stage string) {
	m.mu.Lock()
	m.calls = append(m.calls, stage)
	m.mu.Unlock()
}

func (m *MockProcessor) Validate(ctx context.Context, inputPath string) (models.ValidationReport, error) {
	m.record(StageValidate)
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, inputPath)
	}
	return models.ValidationReport{Valid: true, Issues: []string{}, Warnings: []string{}}, nil
}

func (m *MockProcessor) Clean(ctx context.Context, inputPath, outputPath string) (models.CleanReport, error) {
	m.record(StageClean)
	if m.CleanFunc != nil {
		return m.CleanFunc(ctx, inputPath, outputPath)
	}
	return models.CleanReport{}, nil
}

func (m *MockProcessor) Optimize(ctx context.Context, inputPath, outputPath string, targetFaces int) (models.OptimizationStats, error) {
	m.record(StageOptimize)
	if m.OptimizeFunc != nil {
		return m.OptimizeFunc(ctx, inputPath, outputPath, targetFaces)
	}
	return models.OptimizationStats{}, nil
}

func (m *MockProcessor) RenderThumbnail(ctx context.Context, modelPath, outputPath string, res models.Resolution) error {
	m.record(StageThumbnail)
	if m.RenderThumbnailFunc != nil {
		return m.RenderThumbnailFunc(ctx, modelPath, outputPath, res)
	}
	return nil
}

func (m *MockProcessor) RenderTurnaround(ctx context.Context, modelPath, outputDir string, angles []float64, res models.Resolution) ([]string, error) {
	m.record(StageTurnaround)
	if m.RenderTurnaroundFunc != nil {
		return m.RenderTurnaroundFunc(ctx, modelPath, outputDir, angles, res)
	}
	return nil, nil
}

func (m *MockProcessor) ExtractAlignment(ctx context.Context, modelPath string) (models.AlignmentReport, error) {
	m.record(StageAlignment)
	if m.ExtractAlignmentFunc != nil {
		return m.ExtractAlignmentFunc(ctx, modelPath)
	}
	return models.AlignmentReport{}, nil
}

// NewMockProcessor returns a MockProcessor that writes placeholder files and reports
// a 12-face cube that needs no reduction.
func NewMockProcessor() *MockProcessor {
	return &MockProcessor{
		Name_: "mock",
		ValidateFunc: func(_ context.Context, _ string) (models.ValidationReport, error) {
			return models.ValidationReport{
				Valid:    true,
				Issues:   []string{},
				Warnings: []string{"No UV map found"},
				Stats:    models.MeshStats{Faces: 12, Vertices: 8, Objects: 1},
			}, nil
		},
		CleanFunc: func(_ context.Context, _, outputPath string) (models.CleanReport, error) {
			return models.CleanReport{}, os.WriteFile(outputPath, []byte("cleaned"), 0o644)
		},
		OptimizeFunc: func(_ context.Context, _, outputPath string, _ int) (models.OptimizationStats, error) {
			stats := models.OptimizationStats{OriginalFaces: 12, OptimizedFaces: 12, OriginalVertices: 8, OptimizedVertices: 8}
			return stats, os.WriteFile(outputPath, []byte("glTF"), 0o644)
		},
		RenderThumbnailFunc: func(_ context.Context, _, outputPath string, _ models.Resolution) error {
			return os.WriteFile(outputPath, []byte("png"), 0o644)
		},
		RenderTurnaroundFunc: func(_ context.Context, _, outputDir string, angles []float64, _ models.Resolution) ([]string, error) {
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return nil, err
			}
			paths := make([]string, 0, len(angles))
			for i, a := range angles {
				p := filepath.Join(outputDir, fmt.Sprintf("360_%d_%g.png", i, a))
				if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
					return nil, err
				}
				paths = append(paths, p)
			}
			return paths, nil
		},
		ExtractAlignmentFunc: func(_ context.Context, _ string) (models.AlignmentReport, error) {
			return models.AlignmentReport{
				Width:        0.07,
				Height:       0.012,
				Depth:        0.07,
				Center:       [3]float64{0, 0.006, 0},
				BoundsMin:    [3]float64{-0.035, 0, -0.035},
				BoundsMax:    [3]float64{0.035, 0.012, 0.035},
				FaceCount:    12,
				VertexCount:  8,
				IsWatertight: true,
			}, nil
		},
	}
}

// NewFailingProcessor returns a default MockProcessor whose named stage returns err.
func NewFailingProcessor(stage string, err error) *MockProcessor {
	m := NewMockProcessor()
	m.Name_ = "mock-failing"
	switch stage {
	case StageValidate:
		m.ValidateFunc = func(context.Context, string) (models.ValidationReport, error) {
			return models.ValidationReport{}, err
		}
	case StageClean:
		m.CleanFunc = func(context.Context, string, string) (models.CleanReport, error) {
			return models.CleanReport{}, err
		}
	case StageOptimize:
		m.OptimizeFunc = func(context.Context, string, string, int) (models.OptimizationStats, error) {
			return models.OptimizationStats{}, err
		}
	case StageThumbnail:
		m.RenderThumbnailFunc = func(context.Context, string, string, models.Resolution) error {
			return err
		}
	case StageTurnaround:
		m.RenderTurnaroundFunc = func(context.Context, string, string, []float64, models.Resolution) ([]string, error) {
			return nil, err
		}
	case StageAlignment:
		m.ExtractAlignmentFunc = func(context.Context, string) (models.AlignmentReport, error) {
			return models.AlignmentReport{}, err
		}
	}
	return m
}

// NewBlockingProcessor returns a default MockProcessor whose named stage blocks until
// the context is done.
func NewBlockingProcessor(stage string) *MockProcessor {
	m := NewMockProcessor()
	m.Name_ = "mock-blocking"
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	switch stage {
	case StageValidate:
		m.ValidateFunc = func(ctx context.Context, _ string) (models.ValidationReport, error) {
			return models.ValidationReport{}, block(ctx)
		}
	case StageOptimize:
		m.OptimizeFunc = func(ctx context.Context, _, _ string, _ int) (models.OptimizationStats, error) {
			return models.OptimizationStats{}, block(ctx)
		}
	case StageTurnaround:
		m.RenderTurnaroundFunc = func(ctx context.Context, _, _ string, _ []float64, _ models.Resolution) ([]string, error) {
			return nil, block(ctx)
		}
	}
	return m
}

// Compile-time check that MockProcessor implements ModelProcessor.
var _ models.ModelProcessor = (*MockProcessor)(nil)
