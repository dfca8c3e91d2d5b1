// Package blender drives a host-installed Blender in background mode. Every
// operation is one Blender process running the renderpipe.py dispatcher, which
// writes its result as JSON to a file named on the command line.
package blender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/megaartsstore/renderpipe/pkg/models"
	"go.uber.org/zap"
)

// ScriptName is the dispatcher script looked up in the scripts directory.
const ScriptName = "renderpipe.py"

const stderrTail = 2048

// Processor implements models.ModelProcessor on top of the Blender CLI.
type Processor struct {
	binary string
	script string
	logger *zap.Logger
}

// NewProcessor expects a resolved binary path and the full path of the dispatcher script.
func NewProcessor(binary, script string, logger *zap.Logger) *Processor {
	return &Processor{binary: binary, script: script, logger: logger.Named("blender")}
}

func (p *Processor) Name() string { return "blender" }

func (p *Processor) Validate(ctx context.Context, inputPath string) (models.ValidationReport, error) {
	var report models.ValidationReport
	err := p.run(ctx, "validate", &report, "--input", inputPath)
	if report.Issues == nil {
		report.Issues = []string{}
	}
	if report.Warnings == nil {
		report.Warnings = []string{}
	}
	return report, err
}

func (p *Processor) Clean(ctx context.Context, inputPath, outputPath string) (models.CleanReport, error) {
	var report models.CleanReport
	err := p.run(ctx, "clean", &report, "--input", inputPath, "--output", outputPath)
	return report, err
}

func (p *Processor) Optimize(ctx context.Context, inputPath, outputPath string, targetFaces int) (models.OptimizationStats, error) {
	var stats models.OptimizationStats
	err := p.run(ctx, "optimize", &stats,
		"--input", inputPath, "--output", outputPath, "--target-faces", strconv.Itoa(targetFaces))
	return stats, err
}

func (p *Processor) RenderThumbnail(ctx context.Context, modelPath, outputPath string, res models.Resolution) error {
	if err := p.run(ctx, "thumbnail", nil, append([]string{"--input", modelPath, "--output", outputPath}, resArgs(res)...)...); err != nil {
		return err
	}
	if _, err := os.Stat(outputPath); err != nil {
		return models.NewProcessingError("thumbnail", fmt.Errorf("blender produced no image: %w", err))
	}
	return nil
}

func (p *Processor) RenderTurnaround(ctx context.Context, modelPath, outputDir string, angles []float64, res models.Resolution) ([]string, error) {
	parts := make([]string, len(angles))
	for i, a := range angles {
		parts[i] = strconv.FormatFloat(a, 'g', -1, 64)
	}
	var out struct {
		Files []string `json:"files"`
	}
	args := append([]string{"--input", modelPath, "--output-dir", outputDir, "--angles", strings.Join(parts, ",")}, resArgs(res)...)
	if err := p.run(ctx, "turnaround", &out, args...); err != nil {
		return nil, err
	}
	if len(out.Files) != len(angles) {
		return nil, models.NewProcessingError("turnaround",
			fmt.Errorf("blender produced %d frames for %d angles", len(out.Files), len(angles)))
	}
	return out.Files, nil
}

func (p *Processor) ExtractAlignment(ctx context.Context, modelPath string) (models.AlignmentReport, error) {
	var report models.AlignmentReport
	err := p.run(ctx, "alignment", &report, "--input", modelPath)
	return report, err
}

func resArgs(res models.Resolution) []string {
	return []string{"--width", strconv.Itoa(res.Width), "--height", strconv.Itoa(res.Height)}
}

// run executes one dispatcher operation and decodes its JSON result into out.
// A result carrying {"error": "..."} is reported as a ProcessingError.
func (p *Processor) run(ctx context.Context, op string, out any, args ...string) error {
	resultFile, err := os.CreateTemp("", "renderpipe-blender-*.json")
	if err != nil {
		return models.NewProcessingError(op, err)
	}
	resultPath := resultFile.Name()
	resultFile.Close()
	defer os.Remove(resultPath)

	cmdArgs := append([]string{
		"-b", "--factory-startup", "--python-exit-code", "1",
		"--python", p.script, "--", op, "--result", resultPath,
	}, args...)

	var output tailBuffer
	cmd := exec.CommandContext(ctx, p.binary, cmdArgs...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = 10 * time.Second

	start := time.Now()
	err = cmd.Run()
	p.logger.Debug("blender operation finished",
		zap.String("op", op), zap.Duration("duration", time.Since(start)), zap.Error(err))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return models.NewProcessingError(op, fmt.Errorf("blender: %w: %s", err, output.String()))
	}

	raw, err := os.ReadFile(resultPath)
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return models.NewProcessingError(op, errors.New("blender wrote no result"))
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return models.NewProcessingError(op, fmt.Errorf("decode blender result: %w", err))
	}
	if envelope.Error != "" {
		return models.NewProcessingError(op, errors.New(envelope.Error))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return models.NewProcessingError(op, fmt.Errorf("decode blender result: %w", err))
		}
	}
	return nil
}

// tailBuffer keeps only the last stderrTail bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.buf = append(t.buf, b...)
	if len(t.buf) > stderrTail {
		t.buf = t.buf[len(t.buf)-stderrTail:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}

var _ models.ModelProcessor = (*Processor)(nil)
