package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// maxParallelUploads bounds concurrent blob writes for one job.
const maxParallelUploads = 4

// uploadFrames uploads turnaround frames concurrently and returns their URLs in
// angle order.
func (jr *jobRun) uploadFrames(ctx context.Context, frames []string, angles []float64) ([]string, error) {
	urls := make([]string, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, frame := range frames {
		key := jr.key(fmt.Sprintf("renders/360_%d_%g.png", i, angles[i]))
		g.Go(func() error {
			url, err := jr.upload(gctx, frame, key)
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}
