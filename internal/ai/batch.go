package ai

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 3

// ClassifyAll classifies frames in fixed-size groups of concurrencyLimit.
// Calls within a group run concurrently and groups run one after another,
// so at most concurrencyLimit oracle calls are in flight. Results are placed
// by input position, never by arrival order.
//
// The first transport failure cancels the rest of its group and fails the
// whole batch; no partial result is returned.
func ClassifyAll(ctx context.Context, classifier FrameClassifier, frames []Frame, concurrencyLimit int) ([]FrameVerdict, error) {
	if concurrencyLimit <= 0 {
		return nil, fmt.Errorf("concurrency limit must be positive, got %d", concurrencyLimit)
	}

	verdicts := make([]FrameVerdict, len(frames))

	for start := 0; start < len(frames); start += concurrencyLimit {
		end := start + concurrencyLimit
		if end > len(frames) {
			end = len(frames)
		}
		if err := classifyGroup(ctx, classifier, frames[start:end], verdicts[start:end]); err != nil {
			return nil, err
		}
	}

	return verdicts, nil
}

func classifyGroup(ctx context.Context, classifier FrameClassifier, frames []Frame, out []FrameVerdict) error {
	g, groupCtx := errgroup.WithContext(ctx)

	for i := range frames {
		i := i
		g.Go(func() error {
			verdict, err := classifier.ClassifyFrame(groupCtx, frames[i])
			if err != nil {
				return fmt.Errorf("classify frame %d: %w", frames[i].Index, err)
			}
			verdict.FrameIndex = frames[i].Index
			out[i] = verdict
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
