package ai

import "context"

// FrameClassifier judges a single frame. Implementations return a
// *TransportError when the backend cannot be reached and absorb malformed
// replies into NeutralVerdict.
type FrameClassifier interface {
	ClassifyFrame(ctx context.Context, frame Frame) (FrameVerdict, error)
}

// ClassifierFunc adapts a plain function to FrameClassifier.
type ClassifierFunc func(ctx context.Context, frame Frame) (FrameVerdict, error)

func (f ClassifierFunc) ClassifyFrame(ctx context.Context, frame Frame) (FrameVerdict, error) {
	return f(ctx, frame)
}
