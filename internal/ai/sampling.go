package ai

// RecommendedFrameCount maps a video duration in seconds to the number of
// frames worth sampling. Longer videos get more frames, capped at 15.
func RecommendedFrameCount(durationSeconds float64) int {
	switch {
	case durationSeconds <= 10:
		return 5
	case durationSeconds <= 30:
		return 8
	case durationSeconds <= 60:
		return 10
	case durationSeconds <= 180:
		return 12
	default:
		return 15
	}
}

// sampleTimestamps returns count evenly spaced interior points of (0, duration).
func sampleTimestamps(duration float64, count int) []float64 {
	if count <= 0 || duration <= 0 {
		return nil
	}
	interval := duration / float64(count+1)
	timestamps := make([]float64, count)
	for i := 1; i <= count; i++ {
		timestamps[i-1] = interval * float64(i)
	}
	return timestamps
}

// capDimensions scales (w, h) down so the larger side is at most max,
// keeping the aspect ratio. Results are rounded to even numbers since most
// encoders reject odd sizes.
func capDimensions(w, h, max int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if max > 0 && (w > max || h > max) {
		if w >= h {
			h = int(float64(h) * float64(max) / float64(w))
			w = max
		} else {
			w = int(float64(w) * float64(max) / float64(h))
			h = max
		}
	}
	w, h = even(w), even(h)
	return w, h
}

func even(n int) int {
	if n%2 != 0 {
		n--
	}
	if n < 2 {
		n = 2
	}
	return n
}
