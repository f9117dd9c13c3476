package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-go-golems/marionette/pkg/inference/tools"
)

type WeatherRequest struct {
	City string `json:"city" jsonschema:"required,description=Name of the city to look up"`
}

// wttrResponse is the subset of the wttr.in j1 format that is used.
type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		FeelsLikeC  string `json:"FeelsLikeC"`
		Humidity    string `json:"humidity"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

// NewWeatherTool queries the current conditions of a city from a wttr.in compatible service.
func NewWeatherTool(client *http.Client, baseURL string) *tools.FuncTool[WeatherRequest] {
	if baseURL == "" {
		baseURL = "https://wttr.in"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return tools.MustFuncTool(
		WeatherToolName,
		"Current weather for a city. Argument: the city name, e.g. weather[Nanjing].",
		func(ctx context.Context, in WeatherRequest) (string, error) {
			city := strings.TrimSpace(in.City)
			if city == "" {
				return "", tools.NewToolError(WeatherToolName, tools.ToolErrorValidation, "city must not be empty")
			}

			body, err := get(ctx, client, baseURL+"/"+url.PathEscape(city)+"?format=j1", nil)
			if err != nil {
				return "", tools.NewToolError(WeatherToolName, tools.ToolErrorExecution, "weather lookup for %s failed: %v", city, err)
			}

			var data wttrResponse
			if err := json.Unmarshal(body, &data); err != nil || len(data.CurrentCondition) == 0 {
				return "", tools.NewToolError(WeatherToolName, tools.ToolErrorExecution,
					"could not read weather data for %s, the city name may be invalid", city)
			}

			cur := data.CurrentCondition[0]
			desc := "unknown"
			if len(cur.WeatherDesc) > 0 && cur.WeatherDesc[0].Value != "" {
				desc = cur.WeatherDesc[0].Value
			}
			out := fmt.Sprintf("%s: %s, %s°C", city, desc, cur.TempC)
			if cur.FeelsLikeC != "" {
				out += fmt.Sprintf(" (feels like %s°C)", cur.FeelsLikeC)
			}
			if cur.Humidity != "" {
				out += fmt.Sprintf(", humidity %s%%", cur.Humidity)
			}
			return out, nil
		},
		tools.WithPositionalParameter("city"),
	)
}
