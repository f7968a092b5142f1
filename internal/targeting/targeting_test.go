package targeting

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func baseRecipe() Recipe {
	return Recipe{ID: 1, Enabled: true, SampleRate: 100}
}

func TestNewClient_GeneratesUserID(t *testing.T) {
	now := time.Now()
	a := NewClient("en-US", "US", "", now)
	b := NewClient("en-US", "US", "", now)
	assert.NotEmpty(t, a.UserID)
	assert.NotEqual(t, a.UserID, b.UserID)

	c := NewClient("en-US", "US", "stable", now)
	assert.Equal(t, "stable", c.UserID)
}

func TestMatches_AllPass(t *testing.T) {
	logger, _ := newTestLogger()
	now := time.Now()
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)

	r := baseRecipe()
	r.Locale = "en-US"
	r.Country = "US"
	r.StartTime = &start
	r.EndTime = &end

	assert.True(t, Matches(logger, r, NewClient("en-US", "US", "u", now)))
}

func TestMatches_ShortCircuitsInOrder(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		modify func(*Recipe)
		reason string
	}{
		{"disabled wins over locale", func(r *Recipe) { r.Enabled = false; r.Locale = "de" }, "reason=disabled"},
		{"locale wins over country", func(r *Recipe) { r.Locale = "de"; r.Country = "DE" }, "reason=locale"},
		{"country", func(r *Recipe) { r.Country = "DE" }, "reason=country"},
		{"start time in future", func(r *Recipe) { r.StartTime = &future }, "reason=start_time"},
		{"end time in past", func(r *Recipe) { r.EndTime = &past }, "reason=end_time"},
		{"zero sample rate", func(r *Recipe) { r.SampleRate = 0 }, "reason=sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger()
			r := baseRecipe()
			tt.modify(&r)

			assert.False(t, Matches(logger, r, NewClient("en-US", "US", "u", now)))
			assert.Contains(t, buf.String(), tt.reason)
			assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("recipe rejected")))
		})
	}
}

func TestMatches_TimeWindowBoundsInclusive(t *testing.T) {
	logger, _ := newTestLogger()
	now := time.Now()

	r := baseRecipe()
	r.StartTime = &now
	r.EndTime = &now
	assert.True(t, Matches(logger, r, NewClient("", "", "u", now)))
}

func TestMatches_SampleRateIsStable(t *testing.T) {
	logger, _ := newTestLogger()
	now := time.Now()

	r := baseRecipe()
	r.SampleRate = 50

	hits := 0
	for i := 0; i < 1000; i++ {
		client := NewClient("", "", fmt.Sprintf("user-%d", i), now)
		first := Matches(logger, r, client)
		require.Equal(t, first, Matches(logger, r, client))
		if first {
			hits++
		}
	}
	assert.InDelta(t, 500, hits, 80)
}
