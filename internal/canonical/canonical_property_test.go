package canonical

import (
	"bytes"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestJSON_DeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same content always encodes to the same bytes", prop.ForAll(
		func(keys []string, values []string) bool {
			forward := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				forward[keys[i]] = values[i]
			}
			// Rebuild the map in reverse insertion order.
			reverse := make(map[string]any)
			for i := len(keys) - 1; i >= 0; i-- {
				if v, ok := forward[keys[i]]; ok {
					reverse[keys[i]] = v
				}
			}

			a, errA := JSON(forward)
			b, errB := JSON(reverse)
			if errA != nil || errB != nil {
				return false
			}
			return bytes.Equal(a, b)
		},
		gen.SliceOf(gen.UnicodeString(unicode.Latin)),
		gen.SliceOf(gen.UnicodeString(unicode.Han)),
	))

	properties.Property("output is pure ASCII", prop.ForAll(
		func(s string) bool {
			out, err := JSON(map[string]string{"v": s})
			if err != nil {
				return false
			}
			for _, c := range out {
				if c >= 0x80 {
					return false
				}
			}
			return true
		},
		gen.OneGenOf(
			gen.UnicodeString(unicode.Latin),
			gen.UnicodeString(unicode.Greek),
			gen.UnicodeString(unicode.So),
		),
	))

	properties.TestingRun(t)
}
