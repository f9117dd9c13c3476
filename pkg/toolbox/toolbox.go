// Package toolbox contains the built-in tools: weather lookup, web search and a calculator.
package toolbox

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-go-golems/marionette/pkg/inference/tools"
	"github.com/go-go-golems/marionette/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	WeatherToolName    = "weather"
	SearchToolName     = "search"
	CalculatorToolName = "calculator"
)

// Names lists the tools Register knows about.
var Names = []string{WeatherToolName, SearchToolName, CalculatorToolName}

// Register adds the tools enabled in s to reg. Unknown names are an error.
func Register(reg *tools.Registry, s *settings.Settings, client *http.Client) error {
	if client == nil {
		client = http.DefaultClient
	}
	for _, name := range s.Tools.Enabled {
		var tool tools.Tool
		switch strings.TrimSpace(name) {
		case WeatherToolName:
			tool = NewWeatherTool(client, s.Tools.WeatherURL)
		case SearchToolName:
			tool = NewSearchTool(client, SearchConfig{
				SerpAPIKey:    s.Tools.SerpAPIKey,
				SerpAPIURL:    s.Tools.SerpAPIURL,
				DuckDuckGoURL: s.Tools.DuckDuckGoURL,
			})
		case CalculatorToolName:
			tool = NewCalculatorTool()
		default:
			return errors.Errorf("unknown built-in tool %q, expected one of %s", name, strings.Join(Names, ", "))
		}
		reg.Register(tool)
	}
	log.Debug().Strs("tools", reg.Names()).Msg("toolbox: registered built-in tools")
	return nil
}

// get performs a GET request and returns the body. Non-2xx statuses are errors.
func get(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
