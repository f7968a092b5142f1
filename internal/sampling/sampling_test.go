package sampling

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFractionToKey(t *testing.T) {
	key, err := FractionToKey(0)
	require.NoError(t, err)
	assert.Equal(t, "000000000000", key)

	key, err = FractionToKey(1)
	require.NoError(t, err)
	assert.Equal(t, "ffffffffffff", key)

	key, err = FractionToKey(0.5)
	require.NoError(t, err)
	assert.Equal(t, "7fffffffffff", key)
}

func TestFractionToKey_OutOfRange(t *testing.T) {
	_, err := FractionToKey(-0.1)
	assert.ErrorIs(t, err, ErrRateOutOfRange)

	_, err = FractionToKey(1.5)
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, `["a","b"]`, stringify([]string{"a", "b"}))
	assert.Equal(t, `[]`, stringify(nil))
	assert.Equal(t, `["say \"hi\"\n","<&>"]`, stringify([]string{"say \"hi\"\n", "<&>"}))
	assert.Equal(t, `["\u0001"]`, stringify([]string{"\x01"}))
}

func TestTruncatedHash(t *testing.T) {
	h := TruncatedHash([]string{"test"})
	assert.Equal(t, "ecfd160805b1", h)
	assert.Equal(t, "c04a419ca15b", TruncatedHash([]string{"recipe-1", "user-abc"}))
	assert.Equal(t, h, TruncatedHash([]string{"test"}))
	assert.NotEqual(t, h, TruncatedHash([]string{"test", ""}))
}

func TestStableSample_Extremes(t *testing.T) {
	for i := 0; i < 100; i++ {
		inputs := []string{fmt.Sprintf("user-%d", i)}

		in, err := StableSample(0, inputs)
		require.NoError(t, err)
		assert.False(t, in, "rate 0 never samples")

		in, err = StableSample(1, inputs)
		require.NoError(t, err)
		assert.True(t, in, "rate 1 always samples")
	}
}

func TestStableSample_Stable(t *testing.T) {
	inputs := []string{"recipe-1", "user-abc"}
	first, err := StableSample(0.5, inputs)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := StableSample(0.5, inputs)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestStableSample_Distribution(t *testing.T) {
	hits := 0
	const n = 10000
	for i := 0; i < n; i++ {
		in, err := StableSample(0.3, []string{fmt.Sprintf("%d", i)})
		require.NoError(t, err)
		if in {
			hits++
		}
	}
	assert.InDelta(t, 0.3, float64(hits)/n, 0.03)
}

func TestStableSample_BadRate(t *testing.T) {
	_, err := StableSample(2, []string{"x"})
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}

func TestBucketSample_ZeroTotal(t *testing.T) {
	_, err := BucketSample(0, 10, 0, []string{"x"})
	assert.ErrorIs(t, err, ErrInvalidTotal)
}

func TestBucketSample_NegativeCount(t *testing.T) {
	_, err := BucketSample(0, -1, 10, []string{"x"})
	assert.ErrorIs(t, err, ErrNegativeCount)
}

func TestBucketSample_CountZeroNeverMatches(t *testing.T) {
	for i := 0; i < 50; i++ {
		in, err := BucketSample(10, 0, 100, []string{fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
		assert.False(t, in)
	}
}

func TestBucketSample_FullCountAlwaysMatches(t *testing.T) {
	for i := 0; i < 50; i++ {
		inputs := []string{fmt.Sprintf("u%d", i)}
		in, err := BucketSample(0, 100, 100, inputs)
		require.NoError(t, err)
		assert.True(t, in)

		in, err = BucketSample(40, 250, 100, inputs)
		require.NoError(t, err)
		assert.True(t, in)
	}
}

// bucketOf finds the single bucket in [0, total) that inputs hash into.
func bucketOf(t *testing.T, inputs []string, total int) int {
	t.Helper()
	found := -1
	for b := 0; b < total; b++ {
		in, err := BucketSample(float64(b), 1, float64(total), inputs)
		require.NoError(t, err)
		if in {
			require.Equal(t, -1, found, "input landed in two buckets")
			found = b
		}
	}
	require.NotEqual(t, -1, found, "input landed in no bucket")
	return found
}

// findInputInBucket searches for a user id hashing into the given bucket.
func findInputInBucket(t *testing.T, bucket, total int) []string {
	t.Helper()
	for i := 0; i < 100000; i++ {
		inputs := []string{fmt.Sprintf("user-%d", i)}
		in, err := BucketSample(float64(bucket), 1, float64(total), inputs)
		require.NoError(t, err)
		if in {
			return inputs
		}
	}
	t.Fatalf("no input found for bucket %d", bucket)
	return nil
}

func TestBucketSample_Wraparound(t *testing.T) {
	in85 := findInputInBucket(t, 85, 100)
	in10 := findInputInBucket(t, 10, 100)
	in50 := findInputInBucket(t, 50, 100)
	in20 := findInputInBucket(t, 20, 100)

	// 70..99 and 0..19
	match, err := BucketSample(70, 50, 100, in85)
	require.NoError(t, err)
	assert.True(t, match, "bucket 85 is inside the wrapped range")

	match, err = BucketSample(70, 50, 100, in10)
	require.NoError(t, err)
	assert.True(t, match, "bucket 10 is inside the wrapped range")

	match, err = BucketSample(70, 50, 100, in50)
	require.NoError(t, err)
	assert.False(t, match, "bucket 50 is outside the wrapped range")

	match, err = BucketSample(70, 50, 100, in20)
	require.NoError(t, err)
	assert.False(t, match, "bucket 20 is the exclusive end of the wrapped range")
}

func TestBucketSample_StartBeyondTotalWraps(t *testing.T) {
	inputs := findInputInBucket(t, 5, 100)
	match, err := BucketSample(105, 1, 100, inputs)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestBucketSample_EachInputHasOneBucket(t *testing.T) {
	for i := 0; i < 20; i++ {
		bucketOf(t, []string{fmt.Sprintf("check-%d", i)}, 10)
	}
}
