package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	firecrawl "github.com/mendableai/firecrawl-go"
	"github.com/mokiat/gog"
	"gonum.org/v1/gonum/floats"

	"github.com/musedev/muse/config"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/llm"
)

// fetchedPageTokenLimit is where web_fetch stops returning whole pages and
// points the model at the RAG tools instead.
const fetchedPageTokenLimit = 10000

type (
	InternetSearchRequest struct {
		Query      string `json:"query" jsonschema_description:"The search query"`
		NumResults int    `json:"num_results,omitempty" jsonschema_description:"Results to return, max 10, default 5"`
	}

	WebFetchRequest struct {
		URL string `json:"url" jsonschema_description:"Page URL to fetch"`
	}

	WebPageStructureRequest struct {
		URL string `json:"url" jsonschema_description:"Page URL whose heading outline to show"`
	}

	WebSearchInPageRequest struct {
		URL   string `json:"url" jsonschema_description:"Page URL, fetched already or fetched on demand"`
		Query string `json:"query" jsonschema_description:"What to look for in the page"`
		TopK  int    `json:"top_k,omitempty" jsonschema_description:"Fragments to return, default 3"`
	}

	// webTools carries the shared state of the network tool set: API
	// credentials, the embedding handle for in-page retrieval and the
	// per-process page cache that loop protection leans on.
	webTools struct {
		tools      *config.ToolConfig
		firecrawl  *config.FireCrawlConfig
		embedder   llm.Embedder
		httpClient *http.Client
		estimator  llm.Estimator

		mu    sync.Mutex
		pages map[string]string
	}
)

func registerWebTools(r *Registry, toolConf *config.ToolConfig, firecrawlConf *config.FireCrawlConfig, embedder llm.Embedder) *webTools {
	w := &webTools{
		tools:      toolConf,
		firecrawl:  firecrawlConf,
		embedder:   embedder,
		httpClient: http.DefaultClient,
		pages:      make(map[string]string),
	}

	Register(r, "internet_search",
		"Search the web. Returns titles, URLs and snippets. Follow up with web_fetch and web_search_in_page on the interesting URLs.",
		ClassNetwork, w.internetSearch)

	Register(r, "web_fetch",
		"Fetch a page as clean markdown. Large pages are cached and must be queried with web_search_in_page instead of re-fetched.",
		ClassNetwork, w.webFetch)

	Register(r, "web_page_structure",
		"Show the heading outline of a fetched page. Use it to navigate large documents before web_search_in_page.",
		ClassNetwork, w.webPageStructure)

	Register(r, "web_search_in_page",
		"Semantic search inside a fetched page: returns the most relevant fragments for a query.",
		ClassNetwork, w.webSearchInPage)

	return w
}

// internetSearch uses the Google Custom Search JSON API directly; no Go
// SDK needed, the endpoint is a single GET.
func (w *webTools) internetSearch(ctx context.Context, in InternetSearchRequest) (string, error) {
	if w.tools.GoogleAPIKey == "" || w.tools.GoogleCSEID == "" {
		return "", errors.New("GOOGLE_API_KEY and GOOGLE_CSE_ID are not set; internet search is unavailable")
	}

	num := in.NumResults
	if num <= 0 {
		num = 5
	}
	if num > 10 {
		num = 10
	}

	query := url.Values{}
	query.Set("key", w.tools.GoogleAPIKey)
	query.Set("cx", w.tools.GoogleCSEID)
	query.Set("q", in.Query)
	query.Set("num", fmt.Sprint(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://www.googleapis.com/customsearch/v1?"+query.Encode(), nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to build search request")
	}

	res, err := w.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "search request failed")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", errors.Errorf("search API returned HTTP %d", res.StatusCode)
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", errors.Wrapf(err, "failed to decode search response")
	}
	if len(payload.Items) == 0 {
		return "no results for this query", nil
	}

	var b strings.Builder
	for i, item := range payload.Items {
		snippet := strings.ReplaceAll(item.Snippet, "\n", " ")
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n   %s\n\n", i+1, item.Title, item.Link, snippet)
	}
	return strings.TrimSpace(b.String()), nil
}

func (w *webTools) webFetch(ctx context.Context, in WebFetchRequest) (string, error) {
	markdown, err := w.fetchPage(ctx, in.URL)
	if err != nil {
		return "", err
	}

	if tokens := w.estimator.Tokenize(markdown); tokens > fetchedPageTokenLimit {
		return fmt.Sprintf(
			"page is too large to inline (~%d tokens). It is cached now; use web_page_structure(%q) for the outline and web_search_in_page(url=%q, query=...) to extract what you need.",
			tokens, in.URL, in.URL), nil
	}

	return markdown, nil
}

// fetchPage scrapes via firecrawl and caches the markdown per URL.
func (w *webTools) fetchPage(ctx context.Context, pageURL string) (string, error) {
	w.mu.Lock()
	if cached, ok := w.pages[pageURL]; ok {
		w.mu.Unlock()
		return cached, nil
	}
	w.mu.Unlock()

	if w.firecrawl.APIKey == "" {
		return "", errors.New("FIRECRAWL_API_KEY is not set; web fetch is unavailable")
	}

	app, err := firecrawl.NewFirecrawlApp(w.firecrawl.APIKey, w.firecrawl.APIUrl)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create firecrawl client")
	}

	doc, err := app.ScrapeURL(pageURL, &firecrawl.ScrapeParams{
		Formats: []string{"markdown"},
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", pageURL)
	}
	if doc.Markdown == "" {
		return "", errors.Errorf("no content extracted from %s", pageURL)
	}

	w.mu.Lock()
	w.pages[pageURL] = doc.Markdown
	w.mu.Unlock()

	return doc.Markdown, nil
}

// Cached reports whether a URL's content is already in the page cache.
func (w *webTools) Cached(pageURL string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pages[pageURL]
	return ok
}

func (w *webTools) webPageStructure(ctx context.Context, in WebPageStructureRequest) (string, error) {
	markdown, err := w.fetchPage(ctx, in.URL)
	if err != nil {
		return "", err
	}

	var outline []string
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			text := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if text != "" && level <= 6 {
				outline = append(outline, strings.Repeat("  ", level-1)+text)
			}
		}
	}
	if len(outline) == 0 {
		return "no headings found on the page", nil
	}

	return fmt.Sprintf("structure of %s:\n%s\n\nuse web_search_in_page(url, query) to pull the relevant section",
		in.URL, strings.Join(outline, "\n")), nil
}

// webSearchInPage chunks the cached page, embeds chunks and query, and
// returns the fragments ranked by cosine similarity.
func (w *webTools) webSearchInPage(ctx context.Context, in WebSearchInPageRequest) (string, error) {
	markdown, err := w.fetchPage(ctx, in.URL)
	if err != nil {
		return "", err
	}

	topK := in.TopK
	if topK <= 0 {
		topK = 3
	}

	chunks := chunkText(markdown, 1000, 150)
	if len(chunks) == 0 {
		return "", errors.Errorf("no content extracted from %s", in.URL)
	}

	inputs := append([]string{in.Query}, chunks...)
	embeddings, err := w.embedder.Embed(ctx, inputs...)
	if err != nil {
		return "", errors.Wrapf(err, "failed to embed page chunks")
	}

	queryVec := toFloat64(embeddings[0])
	type scored struct {
		index int
		score float64
	}
	results := make([]scored, 0, len(chunks))
	for i := range chunks {
		results = append(results, scored{index: i, score: cosine(queryVec, toFloat64(embeddings[i+1]))})
	}
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].score > results[i].score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "fragments of %s most relevant to %q:\n", in.URL, in.Query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n--- fragment %d (similarity %.0f%%) ---\n%s\n", i+1, r.score*100, chunks[r.index])
	}
	return b.String(), nil
}

func chunkText(text string, size, overlap int) []string {
	var chunks []string
	for start := 0; start < len(text); start += size - overlap {
		end := min(start+size, len(text))
		chunk := strings.TrimSpace(text[start:end])
		if len(chunk) > 100 {
			chunks = append(chunks, chunk)
		}
		if end == len(text) {
			break
		}
	}
	return chunks
}

func toFloat64(v []float32) []float64 {
	return gog.Map(v, func(f float32) float64 { return float64(f) })
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	dot := floats.Dot(a, b)
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}
