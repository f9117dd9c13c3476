package toolbox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/marionette/pkg/inference/tools"
	"github.com/go-go-golems/marionette/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"-4 + 10 / 4", -1.5},
		{"7 % 4", 3},
		{"sqrt(16) + abs(-2)", 6},
		{"pow(2, 10)", 1024},
		{"2.5 * 2", 5},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expr := range []string{"", "1 / 0", "x + 1", "os.Exit(1)", "pow(2)", "\"a\" + 1", "1 +", "sqrt(-1)", "3 ^ 2"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			assert.Error(t, err)
		})
	}
}

func TestCalculatorTool_ThroughDispatcher(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(NewCalculatorTool())
	d := tools.NewDispatcher(reg, tools.DefaultToolConfig())

	obs := d.Execute(context.Background(), tools.Call{
		Name:      CalculatorToolName,
		Arguments: tools.Arguments{{Name: "expression", Value: "(3 + 4) * 6"}},
	})
	require.False(t, obs.Failed(), obs.Text)
	assert.Equal(t, "42", obs.Text)

	obs = d.Execute(context.Background(), tools.Call{
		Name:      CalculatorToolName,
		Arguments: tools.Arguments{{Name: "expression", Value: "1/0"}},
	})
	assert.True(t, obs.Failed())
	assert.Contains(t, obs.Text, "division by zero")
}

func TestWeatherTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Nanjing", r.URL.Path)
		assert.Equal(t, "j1", r.URL.Query().Get("format"))
		_, _ = fmt.Fprint(w, `{"current_condition":[{"temp_C":"22","FeelsLikeC":"21","humidity":"60","weatherDesc":[{"value":"Sunny"}]}]}`)
	}))
	defer srv.Close()

	tool := NewWeatherTool(srv.Client(), srv.URL)
	out, err := tool.Invoke(context.Background(), tools.Arguments{{Name: "city", Value: "Nanjing"}})
	require.NoError(t, err)
	assert.Equal(t, "Nanjing: Sunny, 22°C (feels like 21°C), humidity 60%", out)
	assert.Equal(t, "city", tool.PositionalParameter())
}

func TestWeatherTool_BadCity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `Unknown location`)
	}))
	defer srv.Close()

	_, err := NewWeatherTool(srv.Client(), srv.URL).Invoke(context.Background(), tools.Arguments{{Name: "city", Value: "Atlantis"}})
	require.Error(t, err)
	te := tools.AsToolError(WeatherToolName, err)
	assert.Equal(t, tools.ToolErrorExecution, te.Type)
	assert.Contains(t, te.Message, "Atlantis")
}

func TestSearchTool_SerpAPIPrefersAnswerBox(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"answer box", `{"answer_box":{"answer":"8,849 m"},"organic_results":[{"title":"t","snippet":"s"}]}`, "8,849 m"},
		{"knowledge graph", `{"knowledge_graph":{"description":"Highest mountain"}}`, "Highest mountain"},
		{"organic", `{"organic_results":[{"title":"A","snippet":"a"},{"title":"B","snippet":"b"},{"title":"C","snippet":"c"},{"title":"D","snippet":"d"}]}`,
			"[1] A\na\n\n[2] B\nb\n\n[3] C\nc"},
		{"nothing", `{}`, `No results found for "everest".`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
				assert.Equal(t, "everest", r.URL.Query().Get("q"))
				_, _ = fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			tool := NewSearchTool(srv.Client(), SearchConfig{SerpAPIKey: "secret", SerpAPIURL: srv.URL})
			out, err := tool.Invoke(context.Background(), tools.Arguments{{Name: "query", Value: "everest"}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestSearchTool_DuckDuckGoFallback(t *testing.T) {
	page := `<html><body>
<div class="result"><a class="result__a" href="https://go.dev">The Go Programming Language</a>
<a class="result__snippet">Go is an open source   programming language.</a></div>
<div class="result"><a class="result__a" href="https://pkg.go.dev">Go Packages</a>
<div class="result__snippet">Discover packages.</div></div>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		_, _ = fmt.Fprint(w, page)
	}))
	defer srv.Close()

	tool := NewSearchTool(srv.Client(), SearchConfig{DuckDuckGoURL: srv.URL})
	out, err := tool.Invoke(context.Background(), tools.Arguments{{Name: "query", Value: "golang"}})
	require.NoError(t, err)
	assert.Equal(t, "[1] The Go Programming Language\nGo is an open source programming language.\n\n[2] Go Packages\nDiscover packages.", out)
}

func TestRegister(t *testing.T) {
	s := settings.NewSettings()
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, s, nil))
	assert.Equal(t, []string{"weather", "search", "calculator"}, reg.Names())

	s.Tools.Enabled = []string{"calculator", "teleport"}
	assert.Error(t, Register(tools.NewRegistry(), s, nil))
}
