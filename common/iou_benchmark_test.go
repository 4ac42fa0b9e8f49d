package common

import (
	"math/rand/v2"
	"testing"
)

func randomBoxes(n int, rng *rand.Rand) []Box {
	out := make([]Box, n)
	for i := range out {
		x, y := rng.Float32()*800, rng.Float32()*600
		out[i] = Box{X1: x, Y1: y, X2: x + 16 + rng.Float32()*200, Y2: y + 16 + rng.Float32()*200}
	}
	return out
}

// BenchmarkIoU_PartialOverlap tests the full calculation path.
func BenchmarkIoU_PartialOverlap(b *testing.B) {
	a := Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	o := Box{X1: 50, Y1: 50, X2: 150, Y2: 150}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = a.IoU(o)
	}
}

// BenchmarkIoU_NonOverlapping tests the early return.
func BenchmarkIoU_NonOverlapping(b *testing.B) {
	a := Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	o := Box{X1: 200, Y1: 200, X2: 300, Y2: 300}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = a.IoU(o)
	}
}

// BenchmarkPairwiseIoU matches a stage-sized proposal set against ground truth.
func BenchmarkPairwiseIoU(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 2))
	rows, cols := randomBoxes(2000, rng), randomBoxes(20, rng)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = PairwiseIoU(rows, cols)
	}
}
