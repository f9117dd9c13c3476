package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-go-golems/marionette/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type SearchRequest struct {
	Query string `json:"query" jsonschema:"required,description=What to search the web for"`
}

type SearchConfig struct {
	// SerpAPIKey selects SerpAPI; without it the DuckDuckGo HTML endpoint is scraped.
	SerpAPIKey    string
	SerpAPIURL    string
	DuckDuckGoURL string
	// MaxResults caps the organic results returned. Defaults to 3.
	MaxResults int
}

type searchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

type serpAPIResponse struct {
	Error         string   `json:"error"`
	AnswerBoxList []string `json:"answer_box_list"`
	AnswerBox     *struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answer_box"`
	KnowledgeGraph *struct {
		Description string `json:"description"`
	} `json:"knowledge_graph"`
	OrganicResults []searchResult `json:"organic_results"`
}

// NewSearchTool searches the web and returns the most direct answer it can find.
func NewSearchTool(client *http.Client, cfg SearchConfig) *tools.FuncTool[SearchRequest] {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.SerpAPIURL == "" {
		cfg.SerpAPIURL = "https://serpapi.com/search.json"
	}
	if cfg.DuckDuckGoURL == "" {
		cfg.DuckDuckGoURL = "https://html.duckduckgo.com/html/"
	}

	return tools.MustFuncTool(
		SearchToolName,
		"Web search engine for current events and facts you do not know. Argument: the search query.",
		func(ctx context.Context, in SearchRequest) (string, error) {
			query := strings.TrimSpace(in.Query)
			if query == "" {
				return "", tools.NewToolError(SearchToolName, tools.ToolErrorValidation, "query must not be empty")
			}

			var out string
			var err error
			if cfg.SerpAPIKey != "" {
				out, err = serpAPISearch(ctx, client, cfg, query)
			} else {
				out, err = duckDuckGoSearch(ctx, client, cfg, query)
			}
			if err != nil {
				return "", tools.NewToolError(SearchToolName, tools.ToolErrorExecution, "search for %q failed: %v", query, err)
			}
			if out == "" {
				return fmt.Sprintf("No results found for %q.", query), nil
			}
			return out, nil
		},
		tools.WithPositionalParameter("query"),
	)
}

// serpAPISearch prefers the answer box, then the knowledge graph, then the top organic results.
func serpAPISearch(ctx context.Context, client *http.Client, cfg SearchConfig, query string) (string, error) {
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", cfg.SerpAPIKey)

	body, err := get(ctx, client, cfg.SerpAPIURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	var resp serpAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "decode serpapi response")
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}

	switch {
	case len(resp.AnswerBoxList) > 0:
		return strings.Join(resp.AnswerBoxList, "\n"), nil
	case resp.AnswerBox != nil && resp.AnswerBox.Answer != "":
		return resp.AnswerBox.Answer, nil
	case resp.AnswerBox != nil && resp.AnswerBox.Snippet != "":
		return resp.AnswerBox.Snippet, nil
	case resp.KnowledgeGraph != nil && resp.KnowledgeGraph.Description != "":
		return resp.KnowledgeGraph.Description, nil
	}
	return formatResults(resp.OrganicResults, cfg.MaxResults), nil
}

func duckDuckGoSearch(ctx context.Context, client *http.Client, cfg SearchConfig, query string) (string, error) {
	params := url.Values{}
	params.Set("q", query)
	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0 (compatible; marionette)")

	body, err := get(ctx, client, cfg.DuckDuckGoURL+"?"+params.Encode(), header)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "parse search page")
	}

	var results []searchResult
	doc.Find(".result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Find(".result__a").First().Text())
		if title == "" {
			return true
		}
		link, _ := s.Find(".result__a").First().Attr("href")
		results = append(results, searchResult{
			Title:   title,
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").First().Text()), " "),
			Link:    link,
		})
		return len(results) < cfg.MaxResults
	})
	log.Debug().Str("query", query).Int("results", len(results)).Msg("toolbox: duckduckgo search")
	return formatResults(results, cfg.MaxResults), nil
}

func formatResults(results []searchResult, max int) string {
	if len(results) > max {
		results = results[:max]
	}
	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("[%d] %s\n%s", i+1, r.Title, r.Snippet))
	}
	return strings.Join(parts, "\n\n")
}
