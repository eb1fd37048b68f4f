package model

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// MockAdapter provides deterministic decisions when no model endpoint is
// configured. The heuristics cover the common weather phrasings well enough
// for local use and make router behavior fully testable offline.
type MockAdapter struct {
	// AlwaysTool keeps requesting a tool even after results arrive, which
	// exercises the router's iteration ceiling.
	AlwaysTool bool
	// DecideErr/ComposeErr inject collaborator failures.
	DecideErr  error
	ComposeErr error
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

var (
	dayCountPattern = regexp.MustCompile(`(\d+)\s*-?\s*day`)
	weekdayPattern  = regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var locationStopwords = map[string]bool{
	"today": true, "tomorrow": true, "now": true, "tonight": true,
	"next": true, "this": true, "the": true, "and": true, "or": true,
	"week": true, "weekend": true, "day": true, "days": true,
	"over": true, "during": true, "for": true, "in": true,
	"please": true, "like": true, "right": true, "currently": true,
}

func (a *MockAdapter) Decide(ctx context.Context, req DecideRequest) (Decision, error) {
	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	default:
	}
	if a.DecideErr != nil {
		return Decision{}, a.DecideErr
	}

	query := strings.TrimSpace(req.Query)
	lower := strings.ToLower(query)

	if len(req.ToolResults) > 0 && !a.AlwaysTool {
		// Data is in; let the compose step produce the reply.
		return Decision{Tool: ToolNone}, nil
	}

	if !strings.Contains(lower, "weather") && !strings.Contains(lower, "forecast") &&
		!strings.Contains(lower, "rain") && !strings.Contains(lower, "temperature") &&
		!strings.Contains(lower, "snow") && !strings.Contains(lower, "sunny") {
		return Decision{
			Tool:  ToolNone,
			Reply: "I'm sorry, I can only answer questions about the weather.",
		}, nil
	}

	location := extractLocation(query)
	if location == "" {
		return Decision{
			Tool:  ToolNone,
			Reply: "Which city would you like the weather for?",
		}, nil
	}

	days := extractDayCount(lower)
	if wantsForecast(lower, days) {
		if days <= 0 {
			days = 5
		}
		return Decision{Tool: ToolForecast, Location: location, Days: days}, nil
	}
	return Decision{Tool: ToolCurrentWeather, Location: location}, nil
}

func (a *MockAdapter) Compose(ctx context.Context, req ComposeRequest, onDelta DeltaHandler) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if a.ComposeErr != nil {
		return "", a.ComposeErr
	}

	var b strings.Builder
	b.WriteString("Here's what I found:\n\n")
	for _, result := range req.ToolResults {
		b.WriteString(strings.TrimSpace(result))
		b.WriteString("\n")
	}
	text := b.String()

	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

// extractLocation pulls the first place name following an "in"/"for"
// marker. Only the first location is used when several are mentioned.
func extractLocation(query string) string {
	lower := strings.ToLower(query)

	best, idx := -1, -1
	for _, marker := range []string{" in ", " for ", " at "} {
		if i := strings.Index(lower, marker); i >= 0 && (best < 0 || i < best) {
			best = i
			idx = i + len(marker)
		}
	}
	if idx < 0 {
		return ""
	}

	words := strings.Fields(query[idx:])
	out := make([]string, 0, 3)
	for _, word := range words {
		cleaned := strings.Trim(word, "?,.!;:\"'")
		if cleaned == "" {
			break
		}
		lowered := strings.ToLower(cleaned)
		if locationStopwords[lowered] {
			break
		}
		if _, err := strconv.Atoi(cleaned); err == nil {
			break
		}
		out = append(out, cleaned)
		if len(out) == 3 {
			break
		}
	}
	return strings.Join(out, " ")
}

func extractDayCount(lower string) int {
	if m := dayCountPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// wantsForecast prefers current conditions unless an explicit future
// reference is present.
func wantsForecast(lower string, days int) bool {
	if days > 0 {
		return true
	}
	if strings.Contains(lower, "forecast") || strings.Contains(lower, "tomorrow") ||
		strings.Contains(lower, "next week") || strings.Contains(lower, "will it") {
		return true
	}
	return weekdayPattern.MatchString(lower)
}
