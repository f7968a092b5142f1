package filters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kilupskalvis/normandy/internal/validation"
)

const (
	msgRequired      = "This field is required."
	msgEmptyList     = "This list may not be empty."
	msgNotList       = "Expected a list of items."
	msgNotString     = "Not a valid string."
	msgNotNumber     = "A valid number is required."
	msgNotInteger    = "A valid integer is required."
	msgNotBoolean    = "Must be a valid boolean."
	msgNotObject     = "Expected a filter object."
	msgMinValue      = "Ensure this value is greater than or equal to %s."
	msgMaxValue      = "Ensure this value is less than or equal to %s."
	msgInvalidChoice = "%q is not a valid choice."
	msgDateFormat    = "Datetime has wrong format. Use RFC 3339 or YYYY-MM-DD."
)

// fieldReader pulls typed fields out of a decoded filter object and records
// a message for every field that is missing or malformed.
type fieldReader struct {
	fields map[string]json.RawMessage
	errs   *validation.Error
}

func newFieldReader(raw json.RawMessage) (*fieldReader, bool) {
	r := &fieldReader{errs: validation.NewError()}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return r, false
	}
	if err := json.Unmarshal(trimmed, &r.fields); err != nil {
		return r, false
	}
	return r, true
}

func (r *fieldReader) fail(name, format string, args ...any) {
	r.errs.Add(name, fmt.Sprintf(format, args...))
}

// value returns the raw value of name, treating JSON null as absent.
func (r *fieldReader) value(name string) (json.RawMessage, bool) {
	v, ok := r.fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func (r *fieldReader) has(name string) bool {
	_, ok := r.value(name)
	return ok
}

func (r *fieldReader) str(name string, required bool) string {
	v, ok := r.value(name)
	if !ok {
		if required {
			r.fail(name, msgRequired)
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		r.fail(name, msgNotString)
		return ""
	}
	if s == "" && required {
		r.fail(name, "This field may not be blank.")
	}
	return s
}

func (r *fieldReader) stringList(name string, allowEmpty bool) []string {
	v, ok := r.value(name)
	if !ok {
		r.fail(name, msgRequired)
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		r.fail(name, msgNotList)
		return nil
	}
	if len(items) == 0 && !allowEmpty {
		r.fail(name, msgEmptyList)
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			r.fail(fmt.Sprintf("%s.%d", name, i), msgNotString)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *fieldReader) choiceList(name string, choices []string) []string {
	items := r.stringList(name, false)
	for i, item := range items {
		if !contains(choices, item) {
			r.fail(fmt.Sprintf("%s.%d", name, i), msgInvalidChoice, item)
		}
	}
	return items
}

func (r *fieldReader) choice(name string, choices []string) string {
	s := r.str(name, true)
	if s != "" && !contains(choices, s) {
		r.fail(name, msgInvalidChoice, s)
	}
	return s
}

// number reads a required number bounded below by lo and above by hi.
// NaN bounds disable the corresponding check.
func (r *fieldReader) number(name string, lo, hi float64) float64 {
	v, ok := r.value(name)
	if !ok {
		r.fail(name, msgRequired)
		return 0
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		r.fail(name, msgNotNumber)
		return 0
	}
	r.bounds(name, n, lo, hi)
	return n
}

func (r *fieldReader) bounds(name string, n, lo, hi float64) {
	if !math.IsNaN(lo) && n < lo {
		r.fail(name, msgMinValue, formatNumber(lo))
	}
	if !math.IsNaN(hi) && n > hi {
		r.fail(name, msgMaxValue, formatNumber(hi))
	}
}

func (r *fieldReader) integerList(name string, lo float64) []int {
	v, ok := r.value(name)
	if !ok {
		r.fail(name, msgRequired)
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		r.fail(name, msgNotList)
		return nil
	}
	if len(items) == 0 {
		r.fail(name, msgEmptyList)
		return nil
	}
	out := make([]int, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("%s.%d", name, i)
		var n float64
		if err := json.Unmarshal(item, &n); err != nil || n != math.Trunc(n) {
			r.fail(path, msgNotInteger)
			continue
		}
		r.bounds(path, n, lo, math.NaN())
		out = append(out, int(n))
	}
	return out
}

func (r *fieldReader) boolean(name string) bool {
	v, ok := r.value(name)
	if !ok {
		r.fail(name, msgRequired)
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		r.fail(name, msgNotBoolean)
		return false
	}
	return b
}

func (r *fieldReader) datetime(name string, required bool) *time.Time {
	s := r.str(name, required)
	if s == "" {
		return nil
	}
	t, err := parseDate(s)
	if err != nil {
		r.fail(name, msgDateFormat)
		return nil
	}
	return &t
}

func (r *fieldReader) filter(name string) Filter {
	v, ok := r.value(name)
	if !ok {
		r.fail(name, msgRequired)
		return nil
	}
	f, errs := Parse(v)
	r.errs.Merge(name, errs)
	return f
}

func (r *fieldReader) filterList(name string) []Filter {
	v, ok := r.value(name)
	if !ok {
		r.fail(name, msgRequired)
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		r.fail(name, msgNotList)
		return nil
	}
	if len(items) == 0 {
		r.fail(name, msgEmptyList)
		return nil
	}
	fs, errs := ParseList(items)
	r.errs.Merge(name, errs)
	return fs
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
