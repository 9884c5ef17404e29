package analysis

import (
	"context"
	"errors"

	"github.com/kdimtricp/deepcheck/internal/ai"
)

// UserMessage turns a pipeline failure into the one message shown to the user.
func UserMessage(err error) string {
	var (
		invalid   *ai.InvalidVideoError
		noFrames  *ai.NoFramesExtractedError
		transport *ai.TransportError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "The analysis was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The analysis timed out. Please try again with a shorter video."
	case errors.As(err, &invalid):
		return "The video could not be decoded. Please upload a valid video file."
	case errors.As(err, &noFrames):
		return "No frames could be extracted from the video. The file may be corrupted."
	case errors.Is(err, ai.ErrRateLimited):
		return "The analysis service is rate limiting requests. Please wait a moment and try again."
	case errors.Is(err, ai.ErrQuotaExhausted):
		return "The analysis service quota has been exhausted. Please check the API account billing."
	case errors.As(err, &transport):
		return "The analysis service could not be reached. Please try again later."
	case errors.Is(err, ai.ErrEmptyInput):
		return "No frames could be analyzed."
	default:
		return "Analysis failed. Please try again."
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "failed"
	}
}
