// Package sampling implements the deterministic sampling functions used by
// recipe filter expressions. The hashing matches the client implementation:
// inputs are serialized as a JSON array, hashed with SHA-256 and truncated to
// 48 bits, then compared as fixed-width hex strings against sample points.
package sampling

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	hashBits   = 48
	hashLength = hashBits / 4
)

var hashMultiplier = math.Pow(2, hashBits) - 1

// Sentinel errors for invalid sampling parameters.
var (
	ErrRateOutOfRange = errors.New("rate must be between 0 and 1 inclusive")
	ErrInvalidTotal   = errors.New("total must be greater than 0")
	ErrNegativeCount  = errors.New("start and count must not be negative")
)

// FractionToKey maps a fraction in [0, 1] onto the truncated hash space.
func FractionToKey(frac float64) (string, error) {
	if frac < 0 || frac > 1 || math.IsNaN(frac) {
		return "", fmt.Errorf("%w (got %v)", ErrRateOutOfRange, frac)
	}
	n := uint64(math.Floor(frac * hashMultiplier))
	key := strconv.FormatUint(n, 16)
	if len(key) < hashLength {
		key = strings.Repeat("0", hashLength-len(key)) + key
	}
	return key, nil
}

// TruncatedHash returns the first 48 bits of the SHA-256 digest of inputs,
// as 12 lowercase hex characters.
func TruncatedHash(inputs []string) string {
	sum := sha256.Sum256([]byte(stringify(inputs)))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// StableSample reports whether inputs fall inside the first rate fraction of
// the hash space. The result depends only on rate and inputs.
func StableSample(rate float64, inputs []string) (bool, error) {
	point, err := FractionToKey(rate)
	if err != nil {
		return false, err
	}
	return TruncatedHash(inputs) < point, nil
}

// BucketSample splits the hash space into total buckets and reports whether
// inputs land in one of count consecutive buckets beginning at start. The
// range wraps modulo total.
func BucketSample(start, count, total float64, inputs []string) (bool, error) {
	if err := ValidateBucket(start, count, total); err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}
	if count >= total {
		return true, nil
	}

	hash := TruncatedHash(inputs)
	wrappedStart := math.Mod(start, total)
	end := wrappedStart + count

	if end > total {
		low, err := inBucket(hash, 0, math.Mod(end, total), total)
		if err != nil {
			return false, err
		}
		high, err := inBucket(hash, wrappedStart, total, total)
		if err != nil {
			return false, err
		}
		return low || high, nil
	}
	return inBucket(hash, wrappedStart, end, total)
}

// ValidateBucket checks bucket parameters before any hashing happens.
func ValidateBucket(start, count, total float64) error {
	if !(total > 0) {
		return fmt.Errorf("%w (got %v)", ErrInvalidTotal, total)
	}
	if start < 0 || count < 0 {
		return ErrNegativeCount
	}
	return nil
}

func inBucket(hash string, minBucket, maxBucket, buckets float64) (bool, error) {
	minHash, err := FractionToKey(minBucket / buckets)
	if err != nil {
		return false, err
	}
	maxHash, err := FractionToKey(maxBucket / buckets)
	if err != nil {
		return false, err
	}
	return minHash <= hash && hash < maxHash, nil
}

// stringify encodes inputs exactly like JSON.stringify on an array of
// strings: no whitespace, no HTML or line-separator escaping.
func stringify(inputs []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range inputs {
		if i > 0 {
			b.WriteByte(',')
		}
		quote(&b, s)
	}
	b.WriteByte(']')
	return b.String()
}

func quote(b *strings.Builder, s string) {
	const hex = "0123456789abcdef"
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hex[r>>4])
				b.WriteByte(hex[r&0xF])
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
