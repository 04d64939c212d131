package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"anomalyd/internal/model"
)

// HTTPSource fetches series from a JSON endpoint:
//
//	GET {URL}?query=..&metric=..&granularity=..&from=RFC3339&to=RFC3339
//	200 {"series":[{"group_by":"..","points":[{"t":"..","v":1.5}]}]}
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(rawURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{URL: rawURL, Client: &http.Client{Timeout: timeout}}
}

// SourceError is a non-2xx answer from the series endpoint.
type SourceError struct {
	Status int
	Body   string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("series source: status %d: %s", e.Status, e.Body)
}

type seriesResponse struct {
	Series []Series `json:"series"`
}

func (s *HTTPSource) Fetch(ctx context.Context, job model.Job, from, to time.Time) ([]Series, error) {
	if strings.TrimSpace(s.URL) == "" {
		return nil, ErrNoSource
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("series source url: %w", err)
	}
	q := u.Query()
	q.Set("query", job.SourceQuery)
	q.Set("metric", job.Metric)
	q.Set("granularity", string(job.Granularity))
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &SourceError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var out seriesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	for i := range out.Series {
		pts := out.Series[i].Points
		sort.SliceStable(pts, func(a, b int) bool { return pts[a].Time.Before(pts[b].Time) })
	}
	return out.Series, nil
}
