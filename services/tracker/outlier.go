package tracker

import "sort"

// OutlierGuard classifies candidate prices against a robust baseline
// of recent samples. Price typos (missing digit, extra digit, decimal
// slip) shift magnitude by far more than the factor, while legitimate
// sales or markups rarely exceed it.
type OutlierGuard struct {
	// Factor bounds the accepted band: [median/Factor, median*Factor].
	Factor float64
	// MinSamples is the number of priced samples below which nothing
	// is ever flagged: first observations are always trusted.
	MinSamples int
	// SampleLimit caps how many recent samples a live check reads.
	SampleLimit int
	// BatchSampleLimit caps the sample window during batch cleanup.
	BatchSampleLimit int
}

func DefaultOutlierGuard() OutlierGuard {
	return OutlierGuard{
		Factor:           6.0,
		MinSamples:       3,
		SampleLimit:      50,
		BatchSampleLimit: 200,
	}
}

// Classify reports whether candidate falls outside the median band of
// the given samples. ok is false when there is no statistical basis
// (too few samples, or a non-positive median) and the candidate must
// be trusted.
func (g OutlierGuard) Classify(samples []int64, candidate int64) (isOutlier bool, median float64, ok bool) {
	if len(samples) < g.MinSamples {
		return false, 0, false
	}

	median = medianOf(samples)
	if median <= 0 {
		return false, 0, false
	}

	lower := median / g.Factor
	upper := median * g.Factor
	c := float64(candidate)
	return c < lower || c > upper, median, true
}

func medianOf(samples []int64) float64 {
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
