package weather

import (
	"fmt"
	"strings"
)

// FormatCurrent renders a current-weather observation as markdown for the
// compose step.
func FormatCurrent(loc Location, c Conditions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current weather in %s%s\n", loc.Name, countrySuffix(loc))
	if c.Description != "" {
		fmt.Fprintf(&b, "Condition: %s\n", c.Description)
	}
	fmt.Fprintf(&b, "Temperature: %.1f°C (feels like %.1f°C, min %.1f°C, max %.1f°C)\n",
		c.Temp, c.FeelsLike, c.TempMin, c.TempMax)
	fmt.Fprintf(&b, "Humidity: %d%%, pressure: %d hPa\n", c.Humidity, c.Pressure)
	fmt.Fprintf(&b, "Wind: %.1f m/s at %d°, cloud cover %d%%\n", c.WindSpeed, c.WindDeg, c.Clouds)
	if !c.ObservedAt.IsZero() {
		fmt.Fprintf(&b, "Observed at: %s\n", c.ObservedAt.Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}

// FormatForecast renders a multi-day forecast as markdown.
func FormatForecast(loc Location, days []DailyConditions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d-day forecast for %s%s\n", len(days), loc.Name, countrySuffix(loc))
	for _, d := range days {
		fmt.Fprintf(&b, "- %s: %s, %.1f°C to %.1f°C, humidity %d%%, wind %.1f m/s",
			d.Date.Format("Monday Jan 2"), nonEmpty(d.Description, "n/a"),
			d.TempMin, d.TempMax, d.Humidity, d.WindSpeed)
		if d.PrecipChance > 0 {
			fmt.Fprintf(&b, ", %.0f%% chance of precipitation", d.PrecipChance*100)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func countrySuffix(loc Location) string {
	if loc.Country == "" {
		return ""
	}
	return ", " + loc.Country
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
