package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OpenWeatherClient talks to the OpenWeather geocoding, current-weather and
// 5-day forecast endpoints. Responses are normalized into the package types;
// callers never see provider payloads.
type OpenWeatherClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewOpenWeatherClient(baseURL, apiKey string, timeout time.Duration) *OpenWeatherClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openweathermap.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenWeatherClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *OpenWeatherClient) ResolveLocation(ctx context.Context, name string) ([]Location, error) {
	params := url.Values{}
	params.Set("q", name)
	params.Set("limit", "5")
	params.Set("appid", c.apiKey)

	var results []struct {
		Name    string  `json:"name"`
		Country string  `json:"country"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	}
	if err := c.getJSON(ctx, "/geo/1.0/direct", params, &results); err != nil {
		return nil, err
	}

	out := make([]Location, 0, len(results))
	for _, r := range results {
		out = append(out, Location{Name: r.Name, Country: r.Country, Lat: r.Lat, Lon: r.Lon})
	}
	return out, nil
}

func (c *OpenWeatherClient) Current(ctx context.Context, lat, lon float64) (Conditions, error) {
	params := c.coordParams(lat, lon)

	var payload struct {
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			TempMin   float64 `json:"temp_min"`
			TempMax   float64 `json:"temp_max"`
			Humidity  int     `json:"humidity"`
			Pressure  int     `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   int     `json:"deg"`
		} `json:"wind"`
		Clouds struct {
			All int `json:"all"`
		} `json:"clouds"`
		DT int64 `json:"dt"`
	}
	if err := c.getJSON(ctx, "/data/2.5/weather", params, &payload); err != nil {
		return Conditions{}, err
	}

	cond := Conditions{
		Temp:       payload.Main.Temp,
		FeelsLike:  payload.Main.FeelsLike,
		TempMin:    payload.Main.TempMin,
		TempMax:    payload.Main.TempMax,
		Humidity:   payload.Main.Humidity,
		Pressure:   payload.Main.Pressure,
		WindSpeed:  payload.Wind.Speed,
		WindDeg:    payload.Wind.Deg,
		Clouds:     payload.Clouds.All,
		ObservedAt: time.Unix(payload.DT, 0).UTC(),
	}
	if len(payload.Weather) > 0 {
		cond.Description = payload.Weather[0].Description
	}
	return cond, nil
}

func (c *OpenWeatherClient) Forecast(ctx context.Context, lat, lon float64, days int) ([]DailyConditions, error) {
	if days <= 0 {
		days = 5
	}
	if days > 5 {
		// The 3-hourly endpoint covers five days at most.
		days = 5
	}

	params := c.coordParams(lat, lon)
	params.Set("cnt", strconv.Itoa(days*8))

	var payload struct {
		List []struct {
			DT      int64 `json:"dt"`
			Weather []struct {
				Description string `json:"description"`
			} `json:"weather"`
			Main struct {
				TempMin  float64 `json:"temp_min"`
				TempMax  float64 `json:"temp_max"`
				Humidity int     `json:"humidity"`
			} `json:"main"`
			Wind struct {
				Speed float64 `json:"speed"`
			} `json:"wind"`
			Pop float64 `json:"pop"`
		} `json:"list"`
	}
	if err := c.getJSON(ctx, "/data/2.5/forecast", params, &payload); err != nil {
		return nil, err
	}

	// Every 8th 3-hourly slot approximates one day.
	out := make([]DailyConditions, 0, days)
	for i := 0; i < len(payload.List) && len(out) < days; i += 8 {
		slot := payload.List[i]
		day := DailyConditions{
			Date:         time.Unix(slot.DT, 0).UTC(),
			TempMin:      slot.Main.TempMin,
			TempMax:      slot.Main.TempMax,
			Humidity:     slot.Main.Humidity,
			WindSpeed:    slot.Wind.Speed,
			PrecipChance: slot.Pop,
		}
		if len(slot.Weather) > 0 {
			day.Description = slot.Weather[0].Description
		}
		out = append(out, day)
	}
	return out, nil
}

func (c *OpenWeatherClient) coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	return params
}

func (c *OpenWeatherClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("%w: status %d: %s", ErrProvider, res.StatusCode, string(body))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	return nil
}
