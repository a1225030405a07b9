package filterblock

import "github.com/bits-and-blooms/bloom/v3"

// BuildBloomFallback builds an independent bloom.BloomFilter (the
// teacher's sst.writer dependency) over the same values, sized for
// fpRate. Tests use it to cross-check the quotient-filter Reader's
// false-positive rate against a structurally unrelated implementation
// (spec scenario S6) rather than trusting one structure's own math.
func BuildBloomFallback(values [][]byte, fpRate float64) *bloom.BloomFilter {
	f := bloom.NewWithEstimates(uint(len(values)), fpRate)
	for _, v := range values {
		f.Add(v)
	}
	return f
}
