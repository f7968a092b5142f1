// Package targeting evaluates legacy recipe targeting against a client.
package targeting

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/normandy/internal/sampling"
)

// Client is the per-request view of the caller.
type Client struct {
	Locale      string
	Country     string
	UserID      string
	RequestTime time.Time
}

// NewClient returns a client context. A random user ID is generated when
// userID is empty, so such clients are sampled independently per request.
func NewClient(locale, country, userID string, requestTime time.Time) Client {
	if userID == "" {
		userID = uuid.NewString()
	}
	return Client{Locale: locale, Country: country, UserID: userID, RequestTime: requestTime}
}

// Recipe is the subset of recipe state legacy matching needs.
type Recipe struct {
	ID         int64
	Enabled    bool
	Locale     string
	Country    string
	StartTime  *time.Time
	EndTime    *time.Time
	SampleRate float64
}

// Matches reports whether recipe applies to client. Checks run in order and
// stop at the first failure, which is logged at debug level.
func Matches(logger *slog.Logger, recipe Recipe, client Client) bool {
	reject := func(reason string) bool {
		logger.Debug("recipe rejected", "recipe_id", recipe.ID, "reason", reason)
		return false
	}

	if !recipe.Enabled {
		return reject("disabled")
	}
	if recipe.Locale != "" && recipe.Locale != client.Locale {
		return reject("locale")
	}
	if recipe.Country != "" && recipe.Country != client.Country {
		return reject("country")
	}
	if recipe.StartTime != nil && recipe.StartTime.After(client.RequestTime) {
		return reject("start_time")
	}
	if recipe.EndTime != nil && recipe.EndTime.Before(client.RequestTime) {
		return reject("end_time")
	}

	inputs := []string{strconv.FormatInt(recipe.ID, 10), client.UserID}
	sampled, err := sampling.StableSample(recipe.SampleRate/100, inputs)
	if err != nil {
		logger.Warn("invalid sample rate", "recipe_id", recipe.ID, "sample_rate", recipe.SampleRate, "error", err)
		return reject("sample_rate")
	}
	if !sampled {
		return reject("sample_rate")
	}
	return true
}
