package pipeline

import (
	"math"

	"github.com/megaartsstore/renderpipe/pkg/models"
)

// TargetWristDiameter is the reference wrist the AR viewer fits bangles to, in cm.
const TargetWristDiameter = 6.5

// innerDiameterRatio estimates the inner opening of a bangle from its outer extent.
const innerDiameterRatio = 0.85

// ComputeARConfig derives AR placement from the optimized asset's alignment report.
// Models whose largest extent is under one unit are taken to be in metres.
func ComputeARConfig(a models.AlignmentReport) *models.ARConfig {
	unit := 1.0
	if math.Max(a.Width, math.Max(a.Height, a.Depth)) < 1 {
		unit = 100
	}

	// A flat model has no measurable opening; it keeps unit scale and
	// reports the target diameter.
	inner := round4(innerDiameterRatio * math.Max(a.Width, a.Depth) * unit)
	scale, wrist := 1.0, TargetWristDiameter
	if inner > 0 {
		scale = round4(TargetWristDiameter / inner)
		wrist = inner
	}

	dims := a
	return &models.ARConfig{
		Scale:           scale,
		Rotation:        [3]float64{0, 0, 0},
		Offset:          [3]float64{0, 0, 0},
		WristDiameter:   wrist,
		BangleThickness: round4(a.Height * unit),
		CenterPoint:     a.Center,
		Dimensions:      &dims,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
