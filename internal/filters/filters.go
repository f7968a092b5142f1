// Package filters parses structured filter objects, validates them and
// compiles them into the JEXL expressions evaluated by clients.
package filters

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kilupskalvis/normandy/internal/validation"
)

// Filter is one structured targeting rule. The concrete types below are the
// only implementations.
type Filter interface {
	Type() string
}

// Filter object type names.
const (
	TypeChannel             = "channel"
	TypeLocale              = "locale"
	TypeCountry             = "country"
	TypePlatform            = "platform"
	TypeVersion             = "version"
	TypeVersionRange        = "versionRange"
	TypeDateRange           = "dateRange"
	TypeProfileCreationDate = "profileCreationDate"
	TypeBucketSample        = "bucketSample"
	TypeStableSample        = "stableSample"
	TypeNamespaceSample     = "namespaceSample"
	TypePrefExists          = "prefExists"
	TypePrefUserSet         = "prefUserSet"
	TypePrefCompare         = "prefCompare"
	TypeAddonActive         = "addonActive"
	TypeAddonInstalled      = "addonInstalled"
	TypeNegate              = "negate"
	TypeAnd                 = "and"
	TypeOr                  = "or"
	TypeJEXL                = "jexl"
)

var (
	channelChoices     = []string{"release", "beta", "aurora", "nightly"}
	platformChoices    = []string{"all_mac", "all_windows", "all_linux"}
	directionChoices   = []string{"olderThan", "newerThan"}
	anyOrAllChoices    = []string{"any", "all"}
	comparisonChoices  = []string{"equal", "not_equal", "greater_than", "greater_than_equal", "less_than", "less_than_equal", "contains"}
	noBound            = math.NaN()
	namespaceSampleMax = 10000.0
)

type (
	Channel struct{ Channels []string }
	Locale  struct{ Locales []string }
	Country struct{ Countries []string }

	Platform struct{ Platforms []string }

	// Version matches whole major versions.
	Version struct{ Versions []int }

	// VersionRange matches versions in [MinVersion, MaxVersion).
	VersionRange struct{ MinVersion, MaxVersion string }

	// DateRange matches request times in [NotBefore, NotAfter). Either end
	// may be open.
	DateRange struct{ NotBefore, NotAfter *time.Time }

	ProfileCreationDate struct {
		Direction string
		Date      time.Time
	}

	BucketSample struct {
		Input               []string
		Start, Count, Total float64
	}

	StableSample struct {
		Input []string
		Rate  float64
	}

	// NamespaceSample buckets users within a namespace of 10000 buckets.
	NamespaceSample struct {
		Namespace    string
		Start, Count float64
	}

	PrefExists struct {
		Pref  string
		Value bool
	}

	PrefUserSet struct {
		Pref  string
		Value bool
	}

	PrefCompare struct {
		Pref       string
		Value      json.RawMessage
		Comparison string
	}

	AddonActive struct {
		Addons   []string
		AnyOrAll string
	}

	AddonInstalled struct {
		Addons   []string
		AnyOrAll string
	}

	Negate struct{ Filter Filter }
	And    struct{ Filters []Filter }
	Or     struct{ Filters []Filter }

	// JEXL passes an expression through verbatim. Its capabilities are
	// declared by the author.
	JEXL struct {
		Expression   string
		Capabilities []string
		Comment      string
	}
)

func (Channel) Type() string             { return TypeChannel }
func (Locale) Type() string              { return TypeLocale }
func (Country) Type() string             { return TypeCountry }
func (Platform) Type() string            { return TypePlatform }
func (Version) Type() string             { return TypeVersion }
func (VersionRange) Type() string        { return TypeVersionRange }
func (DateRange) Type() string           { return TypeDateRange }
func (ProfileCreationDate) Type() string { return TypeProfileCreationDate }
func (BucketSample) Type() string        { return TypeBucketSample }
func (StableSample) Type() string        { return TypeStableSample }
func (NamespaceSample) Type() string     { return TypeNamespaceSample }
func (PrefExists) Type() string          { return TypePrefExists }
func (PrefUserSet) Type() string         { return TypePrefUserSet }
func (PrefCompare) Type() string         { return TypePrefCompare }
func (AddonActive) Type() string         { return TypeAddonActive }
func (AddonInstalled) Type() string      { return TypeAddonInstalled }
func (Negate) Type() string              { return TypeNegate }
func (And) Type() string                 { return TypeAnd }
func (Or) Type() string                  { return TypeOr }
func (JEXL) Type() string                { return TypeJEXL }

// Parse decodes and validates a single filter object. Field errors are
// keyed relative to the object, e.g. "channels" or "filters.0.pref". The
// returned filter is nil whenever the error is non-empty.
func Parse(raw json.RawMessage) (Filter, *validation.Error) {
	r, ok := newFieldReader(raw)
	if !ok {
		return nil, validation.FieldError("non_field_errors", msgNotObject)
	}

	typ := r.str("type", true)
	if !r.errs.Empty() {
		return nil, r.errs
	}

	var f Filter
	switch typ {
	case TypeChannel:
		f = Channel{Channels: r.choiceList("channels", channelChoices)}
	case TypeLocale:
		f = Locale{Locales: r.stringList("locales", false)}
	case TypeCountry:
		f = Country{Countries: r.stringList("countries", false)}
	case TypePlatform:
		f = Platform{Platforms: r.choiceList("platforms", platformChoices)}
	case TypeVersion:
		f = Version{Versions: r.integerList("versions", 40)}
	case TypeVersionRange:
		f = parseVersionRange(r)
	case TypeDateRange:
		f = parseDateRange(r)
	case TypeProfileCreationDate:
		pcd := ProfileCreationDate{Direction: r.choice("direction", directionChoices)}
		if d := r.datetime("date", true); d != nil {
			pcd.Date = *d
		}
		f = pcd
	case TypeBucketSample:
		f = BucketSample{
			Input: r.stringList("input", false),
			Start: r.number("start", 0, noBound),
			Count: r.number("count", 0, noBound),
			Total: r.number("total", 1, noBound),
		}
	case TypeStableSample:
		f = StableSample{
			Input: r.stringList("input", false),
			Rate:  r.number("rate", 0, 1),
		}
	case TypeNamespaceSample:
		f = NamespaceSample{
			Namespace: r.str("namespace", true),
			Start:     r.number("start", 0, namespaceSampleMax),
			Count:     r.number("count", 0, namespaceSampleMax),
		}
	case TypePrefExists:
		f = PrefExists{Pref: r.str("pref", true), Value: r.boolean("value")}
	case TypePrefUserSet:
		f = PrefUserSet{Pref: r.str("pref", true), Value: r.boolean("value")}
	case TypePrefCompare:
		pc := PrefCompare{Pref: r.str("pref", true), Comparison: r.choice("comparison", comparisonChoices)}
		if v, ok := r.value("value"); ok {
			pc.Value = v
		} else {
			r.fail("value", msgRequired)
		}
		f = pc
	case TypeAddonActive:
		f = AddonActive{Addons: r.stringList("addons", false), AnyOrAll: r.choice("any_or_all", anyOrAllChoices)}
	case TypeAddonInstalled:
		f = AddonInstalled{Addons: r.stringList("addons", false), AnyOrAll: r.choice("any_or_all", anyOrAllChoices)}
	case TypeNegate:
		f = Negate{Filter: r.filter("filter")}
	case TypeAnd:
		f = And{Filters: r.filterList("filters")}
	case TypeOr:
		f = Or{Filters: r.filterList("filters")}
	case TypeJEXL:
		f = parseJEXL(r)
	default:
		r.fail("type", "Unknown filter object type %q.", typ)
	}

	if !r.errs.Empty() {
		return nil, r.errs
	}
	return f, nil
}

// ParseList parses each object, reporting errors under its index.
func ParseList(raws []json.RawMessage) ([]Filter, *validation.Error) {
	errs := validation.NewError()
	out := make([]Filter, 0, len(raws))
	for i, raw := range raws {
		f, ferr := Parse(raw)
		if !ferr.Empty() {
			errs.Merge(fmt.Sprint(i), ferr)
			continue
		}
		out = append(out, f)
	}
	if !errs.Empty() {
		return nil, errs
	}
	return out, nil
}

func parseVersionRange(r *fieldReader) Filter {
	vr := VersionRange{MinVersion: r.str("min_version", true), MaxVersion: r.str("max_version", true)}
	if vr.MinVersion == "" || vr.MaxVersion == "" {
		return vr
	}
	lo, err := semver.NewVersion(vr.MinVersion)
	if err != nil {
		r.fail("min_version", "Invalid version %q.", vr.MinVersion)
	}
	hi, err := semver.NewVersion(vr.MaxVersion)
	if err != nil {
		r.fail("max_version", "Invalid version %q.", vr.MaxVersion)
	}
	if lo != nil && hi != nil && !lo.LessThan(hi) {
		r.fail("max_version", "Must be greater than min_version.")
	}
	return vr
}

func parseDateRange(r *fieldReader) Filter {
	dr := DateRange{NotBefore: r.datetime("not_before", false), NotAfter: r.datetime("not_after", false)}
	if !r.has("not_before") && !r.has("not_after") {
		r.fail("non_field_errors", "One of not_before or not_after is required.")
	}
	if dr.NotBefore != nil && dr.NotAfter != nil && !dr.NotBefore.Before(*dr.NotAfter) {
		r.fail("not_after", "Must be later than not_before.")
	}
	return dr
}

func parseJEXL(r *fieldReader) Filter {
	j := JEXL{Expression: r.str("expression", true), Comment: r.str("comment", false)}
	if j.Expression != "" {
		if err := CheckExpression(j.Expression); err != nil {
			r.fail("expression", "%s", err.Error())
		}
	}
	j.Capabilities = r.stringList("capabilities", true)
	return j
}
