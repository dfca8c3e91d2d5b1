// Package processor selects the model processing backend once at startup.
package processor

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/megaartsstore/renderpipe/internal/config"
	"github.com/megaartsstore/renderpipe/internal/processor/blender"
	"github.com/megaartsstore/renderpipe/internal/processor/meshlib"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"go.uber.org/zap"
)

// NewProcessor returns the Blender backend when it is enabled and both the binary
// and the dispatcher script resolve. Otherwise it falls back to meshlib.
func NewProcessor(cfg config.ProcessorConfig, logger *zap.Logger) models.ModelProcessor {
	if !cfg.BlenderEnabled {
		return meshlib.NewProcessor(logger)
	}

	bin, err := exec.LookPath(cfg.BlenderPath)
	if err != nil {
		logger.Warn("blender not found, falling back to meshlib",
			zap.String("blender_path", cfg.BlenderPath), zap.Error(err))
		return meshlib.NewProcessor(logger)
	}

	script := filepath.Join(cfg.BlenderScriptsDir, blender.ScriptName)
	if _, err := os.Stat(script); err != nil {
		logger.Warn("blender script missing, falling back to meshlib",
			zap.String("script", script), zap.Error(err))
		return meshlib.NewProcessor(logger)
	}

	logger.Info("using blender processor", zap.String("binary", bin), zap.String("script", script))
	return blender.NewProcessor(bin, script, logger)
}
