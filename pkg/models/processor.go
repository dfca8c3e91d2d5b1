// Package models contains shared data models used across the renderpipe codebase.
package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ModelProcessor is the capability every processing backend must implement.
// The orchestrator never calls a backend directly; it only sees this interface.
// All paths are local files inside the caller's job workspace.
type ModelProcessor interface {
	// Validate is a non-destructive pre-check. Issues block the pipeline, warnings do not.
	Validate(ctx context.Context, inputPath string) (ValidationReport, error)
	// Clean repairs geometry (duplicate vertices, degenerate faces) and writes the result to outputPath.
	Clean(ctx context.Context, inputPath, outputPath string) (CleanReport, error)
	// Optimize reduces the face count toward targetFaces and always writes a GLB to outputPath.
	Optimize(ctx context.Context, inputPath, outputPath string, targetFaces int) (OptimizationStats, error)
	// RenderThumbnail writes a single representative PNG.
	RenderThumbnail(ctx context.Context, modelPath, outputPath string, res Resolution) error
	// RenderTurnaround writes one PNG per angle into outputDir using identical framing for every frame.
	RenderTurnaround(ctx context.Context, modelPath, outputDir string, angles []float64, res Resolution) ([]string, error)
	// ExtractAlignment measures the optimized asset for AR placement.
	ExtractAlignment(ctx context.Context, modelPath string) (AlignmentReport, error)
	// Name returns the backend identifier ("blender", "meshlib", "mock").
	Name() string
}

// Resolution is an output image size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// MeshStats are simple counts reported by validation.
type MeshStats struct {
	Faces    int `json:"faces"`
	Vertices int `json:"vertices"`
	Objects  int `json:"objects"`
}

type ValidationReport struct {
	Valid    bool      `json:"valid"`
	Issues   []string  `json:"issues"`
	Warnings []string  `json:"warnings"`
	Stats    MeshStats `json:"stats"`
}

type CleanReport struct {
	MergedVertices  int `json:"merged_vertices"`
	RemovedFaces    int `json:"removed_faces"`
	RemovedVertices int `json:"removed_vertices"`
}

// OptimizationStats describe one optimize pass. ReductionPercentage is rounded to two decimals.
type OptimizationStats struct {
	OriginalFaces       int     `json:"original_faces"`
	OptimizedFaces      int     `json:"optimized_faces"`
	OriginalVertices    int     `json:"original_vertices"`
	OptimizedVertices   int     `json:"optimized_vertices"`
	ReductionPercentage float64 `json:"reduction_percentage"`
}

// AlignmentReport is geometric metadata in model units.
type AlignmentReport struct {
	Width        float64    `json:"width"`
	Height       float64    `json:"height"`
	Depth        float64    `json:"depth"`
	Center       [3]float64 `json:"center"`
	BoundsMin    [3]float64 `json:"bounds_min"`
	BoundsMax    [3]float64 `json:"bounds_max"`
	FaceCount    int        `json:"face_count"`
	VertexCount  int        `json:"vertex_count"`
	IsWatertight bool       `json:"is_watertight"`
}

// ErrUnsupportedFormat is returned when a backend cannot read the input file type.
var ErrUnsupportedFormat = errors.New("unsupported model format")

// ProcessingError is raised by any processor stage. It is always fatal to the job run.
type ProcessingError struct {
	Stage   string
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// NewProcessingError wraps err for the named stage.
func NewProcessingError(stage string, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Message: fmt.Sprintf("%s failed: %v", stage, err), Err: err}
}

// ValidationError carries the blocking issues found by Validate.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "model failed validation"
	}
	return strings.Join(e.Issues, "; ")
}
