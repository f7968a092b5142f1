package filters

import "sort"

// CapabilitiesV1 marks a recipe as using the capabilities system at all.
const CapabilitiesV1 = "capabilities-v1"

// BaselineCapabilities are supported by every client that understands
// capabilities. Recipes that need nothing beyond these can also be served to
// older clients.
var BaselineCapabilities = map[string]bool{
	CapabilitiesV1: true,

	"action.console-log":                 true,
	"action.show-heartbeat":              true,
	"action.preference-experiment":       true,
	"action.opt-out-study":               true,
	"action.preference-rollout":          true,
	"action.preference-rollback":         true,
	"action.branched-addon-study":        true,
	"action.multi-preference-experiment": true,

	"jexl.context.normandy.addons":       true,
	"jexl.context.normandy.channel":      true,
	"jexl.context.normandy.country":      true,
	"jexl.context.normandy.locale":       true,
	"jexl.context.normandy.os":           true,
	"jexl.context.normandy.request_time": true,
	"jexl.context.normandy.telemetry":    true,
	"jexl.context.normandy.userId":       true,
	"jexl.context.normandy.version":      true,

	"jexl.transform.bucketSample":        true,
	"jexl.transform.date":                true,
	"jexl.transform.preferenceExists":    true,
	"jexl.transform.preferenceIsUserSet": true,
	"jexl.transform.preferenceValue":     true,
	"jexl.transform.stableSample":        true,

	"jexl.operator.in": true,
}

// Capabilities returns the capabilities a client needs to evaluate f.
func Capabilities(f Filter) []string {
	set := make(map[string]bool)
	addCapabilities(set, f)
	return sortedKeys(set)
}

func addCapabilities(set map[string]bool, f Filter) {
	add := func(caps ...string) {
		for _, c := range caps {
			set[c] = true
		}
	}
	switch f := f.(type) {
	case Channel:
		add("jexl.context.normandy.channel", "jexl.operator.in")
	case Locale:
		add("jexl.context.normandy.locale", "jexl.operator.in")
	case Country:
		add("jexl.context.normandy.country", "jexl.operator.in")
	case Platform:
		add("jexl.context.normandy.os")
	case Version:
		add("jexl.context.normandy.version")
	case VersionRange:
		add("jexl.context.normandy.version", "jexl.transform.versionCompare")
	case DateRange:
		add("jexl.context.normandy.request_time", "jexl.transform.date")
	case ProfileCreationDate:
		add("jexl.context.normandy.telemetry")
	case BucketSample:
		add("jexl.transform.bucketSample")
	case StableSample:
		add("jexl.transform.stableSample")
	case NamespaceSample:
		add("jexl.transform.bucketSample", "jexl.context.normandy.userId")
	case PrefExists:
		add("jexl.transform.preferenceExists")
	case PrefUserSet:
		add("jexl.transform.preferenceIsUserSet")
	case PrefCompare:
		add("jexl.transform.preferenceValue")
		if f.Comparison == "contains" {
			add("jexl.operator.in")
		}
	case AddonActive, AddonInstalled:
		add("jexl.context.normandy.addons")
	case Negate:
		addCapabilities(set, f.Filter)
	case And:
		for _, child := range f.Filters {
			addCapabilities(set, child)
		}
	case Or:
		for _, child := range f.Filters {
			addCapabilities(set, child)
		}
	case JEXL:
		add(f.Capabilities...)
	}
}

// RecipeCapabilities is the sorted union of the capabilities of fs, the
// action capability and CapabilitiesV1.
func RecipeCapabilities(actionName string, fs []Filter) []string {
	set := map[string]bool{CapabilitiesV1: true}
	if actionName != "" {
		set["action."+actionName] = true
	}
	for _, f := range fs {
		addCapabilities(set, f)
	}
	return sortedKeys(set)
}

// UsesOnlyBaseline reports whether every capability is in
// BaselineCapabilities.
func UsesOnlyBaseline(caps []string) bool {
	for _, c := range caps {
		if !BaselineCapabilities[c] {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
