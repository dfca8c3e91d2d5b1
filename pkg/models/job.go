package models

import (
	"time"
)

// JobStatus is the pipeline stage a render job is in, or one of its two terminal states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusValidating JobStatus = "validating"
	JobStatusCleaning   JobStatus = "cleaning"
	JobStatusOptimizing JobStatus = "optimizing"
	JobStatusRendering  JobStatus = "rendering"
	JobStatusExporting  JobStatus = "exporting"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// stageOrder is the required forward progression. failed sits outside it.
var stageOrder = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusValidating: 1,
	JobStatusCleaning:   2,
	JobStatusOptimizing: 3,
	JobStatusRendering:  4,
	JobStatusExporting:  5,
	JobStatusCompleted:  6,
}

var displayNames = map[JobStatus]string{
	JobStatusPending:    "Queued",
	JobStatusValidating: "Validating Model",
	JobStatusCleaning:   "Cleaning Geometry",
	JobStatusOptimizing: "Optimizing Mesh",
	JobStatusRendering:  "Generating Renders",
	JobStatusExporting:  "Exporting Files",
	JobStatusCompleted:  "Completed",
	JobStatusFailed:     "Failed",
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	_, ok := displayNames[s]
	return ok
}

// IsTerminal reports whether no further transition may leave s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// DisplayName is the human label shown by dashboards.
func (s JobStatus) DisplayName() string {
	if n, ok := displayNames[s]; ok {
		return n
	}
	return string(s)
}

// CanTransition reports whether a job in status s may be moved to next.
// Repeating the current non-terminal status is allowed so a stage can record
// sub-step progress and log lines.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	return stageOrder[next] >= stageOrder[s] && next != JobStatusPending
}

// JobType classifies a job. It is informational only.
type JobType string

const (
	JobTypeFullRender JobType = "full_render"
	JobTypeOptimize   JobType = "optimize"
	JobTypeThumbnail  JobType = "thumbnail"
)

// Output slot names used in Job.OutputFiles.
const (
	OutputGLB               = "glb"
	OutputThumbnail         = "thumbnail"
	OutputRenders360        = "renders_360"
	OutputOptimizationStats = "optimization_stats"
)

// ARConfig is the placement metadata a client-side AR viewer uses to fit the
// asset on a wrist.
type ARConfig struct {
	Scale           float64          `json:"scale"`
	Rotation        [3]float64       `json:"rotation"`
	Offset          [3]float64       `json:"offset"`
	WristDiameter   float64          `json:"wrist_diameter"`
	BangleThickness float64          `json:"bangle_thickness"`
	CenterPoint     [3]float64       `json:"center_point"`
	Dimensions      *AlignmentReport `json:"dimensions,omitempty"`
}

// Clone returns a deep copy. A nil receiver yields nil.
func (c *ARConfig) Clone() *ARConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Dimensions != nil {
		d := *c.Dimensions
		out.Dimensions = &d
	}
	return &out
}

// Job is one tracked execution of the asset-processing pipeline.
// JobID is the external handle; the storage row key is never exposed.
type Job struct {
	JobID       string         `json:"job_id"`
	ProductID   string         `json:"product_id"`
	InputFile   string         `json:"input_file"`
	JobType     JobType        `json:"job_type"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	OutputFiles map[string]any `json:"output_files"`
	ARConfig    *ARConfig      `json:"ar_config,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Logs        []string       `json:"logs"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StatusDisplay is the human label for the job's current status.
func (j *Job) StatusDisplay() string {
	return j.Status.DisplayName()
}

// OutputURL returns the string stored in a single-URL output slot.
func (j *Job) OutputURL(slot string) (string, bool) {
	v, ok := j.OutputFiles[slot]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.OutputFiles = make(map[string]any, len(j.OutputFiles))
	for k, v := range j.OutputFiles {
		c.OutputFiles[k] = cloneValue(v)
	}
	c.Logs = append([]string(nil), j.Logs...)
	if c.Logs == nil {
		c.Logs = []string{}
	}
	c.ARConfig = j.ARConfig.Clone()
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	default:
		return v
	}
}
