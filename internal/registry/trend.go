package registry

import "github.com/mbd888/securityguard/internal/chain"

// ComputeTrend derives a Trend from samples ordered oldest first. The
// direction compares the mean of the latest third against the earliest third;
// a difference larger than margin in either direction counts.
func ComputeTrend(addr chain.Address, samples []Sample, minSamples int, margin float64) Trend {
	t := Trend{Address: addr, SampleCount: len(samples), Direction: InsufficientData}
	if len(samples) == 0 {
		return t
	}

	t.Min, t.Max = samples[0].Score, samples[0].Score
	sum := 0
	for _, s := range samples {
		if s.Score < t.Min {
			t.Min = s.Score
		}
		if s.Score > t.Max {
			t.Max = s.Score
		}
		sum += s.Score
	}
	t.Avg = float64(sum) / float64(len(samples))

	if minSamples < 3 {
		minSamples = 3
	}
	if len(samples) < minSamples {
		return t
	}

	third := len(samples) / 3
	early := mean(samples[:third])
	late := mean(samples[len(samples)-third:])
	switch {
	case late-early > margin:
		t.Direction = Rising
	case early-late > margin:
		t.Direction = Falling
	default:
		t.Direction = Stable
	}
	return t
}

// RecentAboveAverage reports whether the mean of the last window samples
// exceeds the mean of all samples.
func RecentAboveAverage(samples []Sample, window int) bool {
	if window <= 0 || len(samples) <= window {
		return false
	}
	return mean(samples[len(samples)-window:]) > mean(samples)
}

func mean(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0
	for _, s := range samples {
		sum += s.Score
	}
	return float64(sum) / float64(len(samples))
}
