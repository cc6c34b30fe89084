// Package fetch retrieves product pages over HTTP with per-store
// clients, cookie injection and basic anti-bot countermeasures.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"pricewatch-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("lib/fetch")

const (
	SourceXKom    = "x-kom"
	SourceMorele  = "morele"
	SourceAmazon  = "amazon"
	SourceGeneric = "generic"
)

// DetectSource maps a product url to a store identifier, falling back
// to the bare hostname for unknown shops.
func DetectSource(rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return SourceGeneric
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "x-kom") || strings.Contains(host, "xkom"):
		return SourceXKom
	case strings.Contains(host, "morele"):
		return SourceMorele
	case strings.Contains(host, "amazon"):
		return SourceAmazon
	case host == "":
		return SourceGeneric
	}
	return host
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

var blockTokens = []string{
	"captcha",
	"robot check",
	"access denied",
	"forbidden",
	"cloudflare",
}

// looksLikeBlock detects anti-bot interstitials from the status code
// and a token scan of the body.
func looksLikeBlock(statusCode int, body string) bool {
	if statusCode == 403 || statusCode == 429 {
		return true
	}
	lower := strings.ToLower(body)
	for _, token := range blockTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

type Result struct {
	FinalUrl   string
	StatusCode int
	Body       string
}

type Client struct {
	mu      sync.Mutex
	clients map[string]*resty.Client
	limits  map[string]*rate.Limiter
	// uaIndex rotates per source after a detected block
	uaIndex map[string]int
	debug   *debugDump
}

func NewClient() *Client {
	return &Client{
		clients: make(map[string]*resty.Client),
		limits:  make(map[string]*rate.Limiter),
		uaIndex: make(map[string]int),
		debug:   newDebugDumpFromEnv(),
	}
}

// cookieEnvValue resolves the cookie header for a source, preferring
// the source-specific variable over the shared one.
func cookieEnvValue(source string) string {
	suffix := strings.ToUpper(strings.NewReplacer("-", "", ".", "_").Replace(source))
	if v := os.Getenv("PRICEWATCH_COOKIE_" + suffix); v != "" {
		return normalizeCookieHeader(v)
	}
	if v := os.Getenv("PRICEWATCH_COOKIE"); v != "" {
		return normalizeCookieHeader(v)
	}
	return ""
}

// normalizeCookieHeader accepts either a plain "k=v; k2=v2" header or
// a DevTools cookie export (a JSON array of {name, value} objects) and
// returns header form.
func normalizeCookieHeader(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "[") {
		return trimmed
	}

	var entries []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		return trimmed
	}
	pairs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		pairs = append(pairs, e.Name+"="+e.Value)
	}
	return strings.Join(pairs, "; ")
}

func (c *Client) clientFor(source string) (*resty.Client, *rate.Limiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[source]; ok {
		return client, c.limits[source], nil
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", userAgents[0])
	client.SetHeader("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("accept-language", "pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7")
	client.SetTimeout(time.Second * 20)

	if cookie := cookieEnvValue(source); cookie != "" {
		client.SetHeader("cookie", cookie)
	}

	telemetry.InstrumentResty(client, "fetch/"+source)
	c.debug.instrument(source, client)

	limiter := rate.NewLimiter(rate.Every(time.Second*2), 1)
	c.clients[source] = client
	c.limits[source] = limiter
	return client, limiter, nil
}

// Fetch retrieves one product page. A response that looks like an
// anti-bot block is retried once with a rotated user agent before
// being returned as-is; the extraction layer decides what a blocked
// body means for the observation.
func (c *Client) Fetch(ctx context.Context, rawUrl, source string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("url", rawUrl),
		attribute.String("source", source),
	)

	client, limiter, err := c.clientFor(source)
	if err != nil {
		return Result{}, err
	}
	if err := limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	res, err := client.R().SetContext(ctx).Get(rawUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("fetch %s: %w", rawUrl, err)
	}

	if looksLikeBlock(res.StatusCode(), string(res.Body())) {
		span.AddEvent("block detected, retrying with rotated user agent")
		c.rotateUserAgent(source, client)

		if err := limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
		retry, err := client.R().SetContext(ctx).Get(rawUrl)
		if err == nil {
			res = retry
		}
	}

	return Result{
		FinalUrl:   res.RawResponse.Request.URL.String(),
		StatusCode: res.StatusCode(),
		Body:       string(res.Body()),
	}, nil
}

func (c *Client) rotateUserAgent(source string, client *resty.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uaIndex[source] = (c.uaIndex[source] + 1) % len(userAgents)
	client.SetHeader("user-agent", userAgents[c.uaIndex[source]])
}
