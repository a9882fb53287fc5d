package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/tools"
)

type weatherInput struct {
	City string `json:"city" jsonschema:"required,description=City name"`
}

type weatherOutput struct {
	City        string  `json:"city"`
	Conditions  string  `json:"conditions"`
	Temperature float64 `json:"temperature_c"`
}

type forecastInput struct {
	City string `json:"city" jsonschema:"required,description=City name"`
	Days int    `json:"days" jsonschema:"description=Number of days to forecast (1-5)"`
}

type convertInput struct {
	Celsius float64 `json:"celsius" jsonschema:"required,description=Temperature in Celsius"`
}

var demoWeather = map[string]weatherOutput{
	"london": {City: "London", Conditions: "overcast", Temperature: 14.5},
	"paris":  {City: "Paris", Conditions: "sunny", Temperature: 21.0},
	"tokyo":  {City: "Tokyo", Conditions: "rain", Temperature: 18.2},
}

func getWeather(in weatherInput) (weatherOutput, error) {
	w, ok := demoWeather[strings.ToLower(in.City)]
	if !ok {
		return weatherOutput{}, errors.Errorf("no weather data for %q", in.City)
	}
	return w, nil
}

func getForecast(in forecastInput) ([]weatherOutput, error) {
	base, ok := demoWeather[strings.ToLower(in.City)]
	if !ok {
		return nil, errors.Errorf("no weather data for %q", in.City)
	}
	days := in.Days
	if days <= 0 || days > 5 {
		days = 3
	}
	out := make([]weatherOutput, days)
	for i := range out {
		out[i] = base
		out[i].Temperature += float64(i) * 0.5
	}
	return out, nil
}

func celsiusToFahrenheit(in convertInput) (string, error) {
	return fmt.Sprintf("%.1f°F", in.Celsius*9/5+32), nil
}

// registerDemoTools installs a small lookup toolset so the chat command can
// exercise the orchestration loop without external services.
func registerDemoTools(registry tools.Registry) error {
	specs := []struct {
		name, description string
		fn                interface{}
	}{
		{"get_weather", "Get current weather conditions for a city", getWeather},
		{"get_forecast", "Get a multi-day weather forecast for a city", getForecast},
		{"celsius_to_fahrenheit", "Convert a Celsius temperature to Fahrenheit", celsiusToFahrenheit},
	}
	for _, s := range specs {
		def, err := tools.NewToolFromFunc(s.name, s.description, s.fn)
		if err != nil {
			return errors.Wrapf(err, "build tool %s", s.name)
		}
		if err := registry.RegisterTool(s.name, *def); err != nil {
			return errors.Wrapf(err, "register tool %s", s.name)
		}
	}
	return nil
}
