package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"glot/log"
)

const defaultEndpoint = "https://translate.googleapis.com/translate_a/single"

// Remote translates text through the public translation endpoint. The
// endpoint returns a JSON array whose first element lists translated
// segment tuples; the segments are concatenated in order.
type Remote struct {
	client   *http.Client
	endpoint string
}

func NewRemote() *Remote {
	return NewRemoteURL(defaultEndpoint)
}

// NewRemoteURL exists for tests pointed at a local server.
func NewRemoteURL(endpoint string) *Remote {
	return &Remote{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        2,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		endpoint: endpoint,
	}
}

// Translate fetches a translation for text. Like the local path, failure
// is in-band: the Sentinel text comes back and the error goes only to the
// diagnostics log.
func (r *Remote) Translate(ctx context.Context, text, sourceLang, targetLang string) Result {
	start := time.Now()
	translated, err := r.fetch(ctx, text, sourceLang, targetLang)
	if err != nil {
		log.Errorf("remote translate (%s -> %s): %v", sourceLang, targetLang, err)
		return Result{Text: Sentinel, Elapsed: time.Since(start)}
	}
	return Result{Text: translated, Elapsed: time.Since(start)}
}

func (r *Remote) fetch(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", sourceLang)
	q.Set("tl", targetLang)
	q.Set("dt", "t")
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return parseSegments(body)
}

// parseSegments walks the endpoint's untyped response shape:
// [[["segment", ...], ["segment", ...], ...], ...]
func parseSegments(body []byte) (string, error) {
	var payload []any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("response parse: %w", err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("empty response")
	}
	segments, ok := payload[0].([]any)
	if !ok {
		return "", fmt.Errorf("unexpected response shape")
	}

	var b strings.Builder
	for _, seg := range segments {
		tuple, ok := seg.([]any)
		if !ok || len(tuple) == 0 {
			continue
		}
		if s, ok := tuple[0].(string); ok {
			b.WriteString(s)
		}
	}
	return b.String(), nil
}
