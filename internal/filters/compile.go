package filters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var platformExpressions = map[string]string{
	"all_mac":     "normandy.os.isMac",
	"all_windows": "normandy.os.isWindows",
	"all_linux":   "normandy.os.isLinux",
}

var comparisonOperators = map[string]string{
	"equal":              "==",
	"not_equal":          "!=",
	"greater_than":       ">",
	"greater_than_equal": ">=",
	"less_than":          "<",
	"less_than_equal":    "<=",
}

// Compile returns the JEXL expression for f.
func Compile(f Filter) string {
	switch f := f.(type) {
	case Channel:
		return "normandy.channel in " + quoteList(f.Channels)
	case Locale:
		return "normandy.locale in " + quoteList(f.Locales)
	case Country:
		return "normandy.country in " + quoteList(f.Countries)
	case Platform:
		parts := make([]string, 0, len(f.Platforms))
		for _, p := range f.Platforms {
			parts = append(parts, platformExpressions[p])
		}
		return strings.Join(parts, "||")
	case Version:
		parts := make([]string, 0, len(f.Versions))
		for _, v := range f.Versions {
			parts = append(parts, fmt.Sprintf(`(normandy.version>="%d"&&normandy.version<"%d")`, v, v+1))
		}
		return strings.Join(parts, "||")
	case VersionRange:
		return fmt.Sprintf(`(normandy.version|versionCompare(%s)>=0)&&(normandy.version|versionCompare(%s)<0)`,
			quote(f.MinVersion), quote(f.MaxVersion))
	case DateRange:
		var parts []string
		if f.NotBefore != nil {
			parts = append(parts, fmt.Sprintf(`normandy.request_time>=%s|date`, quote(formatTime(*f.NotBefore))))
		}
		if f.NotAfter != nil {
			parts = append(parts, fmt.Sprintf(`normandy.request_time<%s|date`, quote(formatTime(*f.NotAfter))))
		}
		return AndJoin(parts)
	case ProfileCreationDate:
		days := int64(f.Date.Sub(time.Unix(0, 0).UTC()).Hours() / 24)
		op := ">"
		if f.Direction == "olderThan" {
			op = "<="
		}
		return fmt.Sprintf("(normandy.telemetry.main.environment.profile.creationDate%s%d)", op, days)
	case BucketSample:
		return fmt.Sprintf("[%s]|bucketSample(%s,%s,%s)",
			strings.Join(f.Input, ","), formatNumber(f.Start), formatNumber(f.Count), formatNumber(f.Total))
	case StableSample:
		return fmt.Sprintf("[%s]|stableSample(%s)", strings.Join(f.Input, ","), formatNumber(f.Rate))
	case NamespaceSample:
		return fmt.Sprintf("[%s,normandy.userId]|bucketSample(%s,%s,%s)",
			quote(f.Namespace), formatNumber(f.Start), formatNumber(f.Count), formatNumber(namespaceSampleMax))
	case PrefExists:
		expr := quote(f.Pref) + "|preferenceExists"
		if !f.Value {
			return "!(" + expr + ")"
		}
		return expr
	case PrefUserSet:
		expr := quote(f.Pref) + "|preferenceIsUserSet"
		if !f.Value {
			return "!(" + expr + ")"
		}
		return expr
	case PrefCompare:
		pref := quote(f.Pref) + "|preferenceValue"
		value := compactJSON(f.Value)
		if f.Comparison == "contains" {
			return value + " in " + pref
		}
		return pref + comparisonOperators[f.Comparison] + value
	case AddonActive:
		return joinAddons(f.Addons, f.AnyOrAll, ".isActive")
	case AddonInstalled:
		return joinAddons(f.Addons, f.AnyOrAll, "")
	case Negate:
		return "!(" + Compile(f.Filter) + ")"
	case And:
		return AndJoin(compileAll(f.Filters))
	case Or:
		return OrJoin(compileAll(f.Filters))
	case JEXL:
		return f.Expression
	default:
		panic(fmt.Sprintf("filters: unhandled filter type %T", f))
	}
}

// CompileAll compiles every filter and ANDs the results.
func CompileAll(fs []Filter) string {
	return AndJoin(compileAll(fs))
}

// AndJoin combines expressions with &&, wrapping each in parentheses.
// Empty expressions are skipped and a single expression is returned as is.
func AndJoin(exprs []string) string {
	return join(exprs, "&&")
}

// OrJoin is AndJoin with ||.
func OrJoin(exprs []string) string {
	return join(exprs, "||")
}

func join(exprs []string, op string) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if strings.TrimSpace(e) != "" {
			parts = append(parts, e)
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString(op)
		}
		b.WriteString("(")
		b.WriteString(p)
		b.WriteString(")")
	}
	return b.String()
}

func compileAll(fs []Filter) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, Compile(f))
	}
	return out
}

func joinAddons(addons []string, anyOrAll, suffix string) string {
	parts := make([]string, 0, len(addons))
	for _, a := range addons {
		parts = append(parts, "normandy.addons["+quote(a)+"]"+suffix)
	}
	if anyOrAll == "all" {
		return strings.Join(parts, "&&")
	}
	return strings.Join(parts, "||")
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

func quoteList(items []string) string {
	parts := make([]string, len(items))
	for i, s := range items {
		parts[i] = quote(s)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
