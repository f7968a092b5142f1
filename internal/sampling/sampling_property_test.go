package sampling

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSampling_StabilityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("stableSample is a pure function of its inputs", prop.ForAll(
		func(rate float64, inputs []string) bool {
			a, errA := StableSample(rate, inputs)
			b, errB := StableSample(rate, inputs)
			return errA == nil && errB == nil && a == b
		},
		gen.Float64Range(0, 1),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("stableSample is monotonic in rate", prop.ForAll(
		func(low, high float64, inputs []string) bool {
			if low > high {
				low, high = high, low
			}
			inLow, _ := StableSample(low, inputs)
			inHigh, _ := StableSample(high, inputs)
			return !inLow || inHigh
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("bucketSample over adjacent halves partitions inputs", prop.ForAll(
		func(start int, inputs []string) bool {
			a, errA := BucketSample(float64(start), 50, 100, inputs)
			b, errB := BucketSample(float64(start+50), 50, 100, inputs)
			return errA == nil && errB == nil && a != b
		},
		gen.IntRange(0, 99),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
