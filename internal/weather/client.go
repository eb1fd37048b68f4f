// Package weather wraps the external weather provider. The agent only sees
// the Client interface; the OpenWeather implementation and the mock are
// interchangeable behind it.
package weather

import (
	"context"
	"errors"
	"time"
)

// ErrProvider covers any non-success answer from the weather provider.
var ErrProvider = errors.New("weather provider error")

// Location is one geocoding result.
type Location struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Conditions is a current-weather observation.
type Conditions struct {
	Description string    `json:"description"`
	Temp        float64   `json:"temp"`
	FeelsLike   float64   `json:"feels_like"`
	TempMin     float64   `json:"temp_min"`
	TempMax     float64   `json:"temp_max"`
	Humidity    int       `json:"humidity"`
	Pressure    int       `json:"pressure"`
	WindSpeed   float64   `json:"wind_speed"`
	WindDeg     int       `json:"wind_deg"`
	Clouds      int       `json:"clouds"`
	ObservedAt  time.Time `json:"observed_at"`
}

// DailyConditions is one day of a forecast.
type DailyConditions struct {
	Date         time.Time `json:"date"`
	Description  string    `json:"description"`
	TempMin      float64   `json:"temp_min"`
	TempMax      float64   `json:"temp_max"`
	Humidity     int       `json:"humidity"`
	WindSpeed    float64   `json:"wind_speed"`
	PrecipChance float64   `json:"precip_chance"`
}

// Client is the weather-provider collaborator contract.
type Client interface {
	// ResolveLocation geocodes a place name. An unknown place yields an
	// empty slice with a nil error.
	ResolveLocation(ctx context.Context, name string) ([]Location, error)
	Current(ctx context.Context, lat, lon float64) (Conditions, error)
	Forecast(ctx context.Context, lat, lon float64, days int) ([]DailyConditions, error)
}
