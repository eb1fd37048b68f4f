package weather

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Mock serves canned data for a handful of cities. FailNext makes the next
// N data calls fail, for exercising the router's retry path.
type Mock struct {
	mu            sync.Mutex
	FailNext      int
	ResolveCalls  int
	CurrentCalls  int
	ForecastCalls int
}

func NewMock() *Mock { return &Mock{} }

var mockCities = map[string]Location{
	"london":   {Name: "London", Country: "GB", Lat: 51.5074, Lon: -0.1278},
	"paris":    {Name: "Paris", Country: "FR", Lat: 48.8566, Lon: 2.3522},
	"rome":     {Name: "Rome", Country: "IT", Lat: 41.9028, Lon: 12.4964},
	"tokyo":    {Name: "Tokyo", Country: "JP", Lat: 35.6762, Lon: 139.6503},
	"new york": {Name: "New York", Country: "US", Lat: 40.7128, Lon: -74.006},
	"medellin": {Name: "Medellin", Country: "CO", Lat: 6.2442, Lon: -75.5812},
}

func (m *Mock) ResolveLocation(_ context.Context, name string) ([]Location, error) {
	m.mu.Lock()
	m.ResolveCalls++
	m.mu.Unlock()

	loc, ok := mockCities[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, nil
	}
	return []Location{loc}, nil
}

func (m *Mock) Current(_ context.Context, lat, lon float64) (Conditions, error) {
	m.mu.Lock()
	m.CurrentCalls++
	fail := m.consumeFailure()
	m.mu.Unlock()
	if fail {
		return Conditions{}, ErrProvider
	}

	return Conditions{
		Description: "clear sky",
		Temp:        18.2,
		FeelsLike:   17.8,
		TempMin:     15.0,
		TempMax:     20.5,
		Humidity:    62,
		Pressure:    1015,
		WindSpeed:   3.4,
		WindDeg:     220,
		Clouds:      10,
		ObservedAt:  time.Now().UTC(),
	}, nil
}

func (m *Mock) Forecast(_ context.Context, lat, lon float64, days int) ([]DailyConditions, error) {
	m.mu.Lock()
	m.ForecastCalls++
	fail := m.consumeFailure()
	m.mu.Unlock()
	if fail {
		return nil, ErrProvider
	}

	if days <= 0 {
		days = 5
	}
	out := make([]DailyConditions, 0, days)
	base := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 0; i < days; i++ {
		out = append(out, DailyConditions{
			Date:         base.AddDate(0, 0, i+1),
			Description:  "scattered clouds",
			TempMin:      12.0 + float64(i),
			TempMax:      19.0 + float64(i),
			Humidity:     58,
			WindSpeed:    4.1,
			PrecipChance: 0.2,
		})
	}
	return out, nil
}

func (m *Mock) consumeFailure() bool {
	if m.FailNext > 0 {
		m.FailNext--
		return true
	}
	return false
}
