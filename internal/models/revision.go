package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kilupskalvis/normandy/internal/canonical"
)

// LegacyTargeting holds the pre-filter-object targeting fields evaluated
// server side for the legacy bundle endpoint.
type LegacyTargeting struct {
	Locale     string     `json:"locale,omitempty"`
	Country    string     `json:"country,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	SampleRate float64    `json:"sample_rate"`
}

// RevisionData is the editable content of a recipe.
type RevisionData struct {
	Name                  string            `json:"name"`
	ActionID              int64             `json:"action_id"`
	Arguments             json.RawMessage   `json:"arguments,omitempty"`
	ExtraFilterExpression string            `json:"extra_filter_expression,omitempty"`
	FilterObject          []json.RawMessage `json:"filter_object,omitempty"`
	Channels              []string          `json:"channels,omitempty"`
	Countries             []string          `json:"countries,omitempty"`
	Locales               []string          `json:"locales,omitempty"`
	Legacy                *LegacyTargeting  `json:"legacy,omitempty"`
	BugNumber             int64             `json:"bug_number,omitempty"`
	Comment               string            `json:"comment,omitempty"`
	IdenticonSeed         string            `json:"identicon_seed,omitempty"`
	ExperimenterSlug      string            `json:"experimenter_slug,omitempty"`
}

// Equal reports whether d and other describe the same content. JSON fields
// compare by canonical form and targeting lists compare as sets.
func (d RevisionData) Equal(other RevisionData) bool {
	if d.Name != other.Name ||
		d.ActionID != other.ActionID ||
		d.ExtraFilterExpression != other.ExtraFilterExpression ||
		d.BugNumber != other.BugNumber ||
		d.Comment != other.Comment ||
		d.IdenticonSeed != other.IdenticonSeed ||
		d.ExperimenterSlug != other.ExperimenterSlug {
		return false
	}
	if !jsonEqual(d.Arguments, other.Arguments) {
		return false
	}
	if len(d.FilterObject) != len(other.FilterObject) {
		return false
	}
	for i := range d.FilterObject {
		if !jsonEqual(d.FilterObject[i], other.FilterObject[i]) {
			return false
		}
	}
	if !sameSet(d.Channels, other.Channels) || !sameSet(d.Countries, other.Countries) || !sameSet(d.Locales, other.Locales) {
		return false
	}
	return legacyEqual(d.Legacy, other.Legacy)
}

// RecipeRevision is an immutable snapshot of a recipe's content.
type RecipeRevision struct {
	ID       string    `json:"id"`
	RecipeID int64     `json:"recipe_id"`
	ParentID string    `json:"parent_id,omitempty"`
	Created  time.Time `json:"created"`
	Creator  string    `json:"creator"`
	RevisionData

	// FilterExpression is the compiled expression served to clients.
	FilterExpression string   `json:"filter_expression"`
	Capabilities     []string `json:"capabilities"`
}

// GenerateRevisionID derives a content-addressed revision ID.
func GenerateRevisionID(recipeID int64, created time.Time, name string, actionID int64, arguments []byte, filterExpression string) string {
	args := canonicalOrRaw(arguments)
	data := fmt.Sprintf("%d|%s|%s|%d|%s|%s",
		recipeID, FormatTimestamp(created), name, actionID, args, filterExpression)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func canonicalOrRaw(raw []byte) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}")
	}
	if c, err := canonical.Bytes(raw); err == nil {
		return c
	}
	return raw
}

func jsonEqual(a, b json.RawMessage) bool {
	return canonical.Equal(canonicalOrRaw(a), canonicalOrRaw(b))
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func legacyEqual(a, b *LegacyTargeting) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Locale == b.Locale &&
		a.Country == b.Country &&
		a.SampleRate == b.SampleRate &&
		timeEqual(a.StartTime, b.StartTime) &&
		timeEqual(a.EndTime, b.EndTime)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
