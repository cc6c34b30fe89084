// Package search scrapes store search pages to find product urls for
// a free-text query.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"pricewatch-backend/lib/fetch"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/search")

type Fetcher interface {
	Fetch(ctx context.Context, url, source string) (fetch.Result, error)
}

type Hit struct {
	Name       string
	Url        string
	PriceCents *int64
	Currency   *string
	Source     string
}

// NormalizeStore maps user-typed store names to canonical source
// identifiers.
func NormalizeStore(store string) string {
	s := strings.ToLower(strings.TrimSpace(store))
	switch s {
	case "xkom", "x-kom", "x-kom.pl", "xkom.pl":
		return fetch.SourceXKom
	case "morele", "morele.net":
		return fetch.SourceMorele
	}
	if strings.HasPrefix(s, "amazon") {
		return fetch.SourceAmazon
	}
	return s
}

// Search queries a store's search page and returns up to limit hits,
// deduplicated by url.
func Search(ctx context.Context, fetcher Fetcher, store, query string, limit int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("store", store),
		attribute.String("query", query),
	)

	var hits []Hit
	var err error
	switch NormalizeStore(store) {
	case fetch.SourceXKom:
		hits, err = searchXKom(ctx, fetcher, query)
	case fetch.SourceMorele:
		hits, err = searchMorele(ctx, fetcher, query)
	default:
		err = fmt.Errorf("unsupported store: %s", store)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits = filterByQuery(hits, query)
	return dedupe(hits, limit), nil
}

func searchXKom(ctx context.Context, fetcher Fetcher, query string) ([]Hit, error) {
	searchUrl := "https://www.x-kom.pl/szukaj?q=" + url.QueryEscape(query)
	res, err := fetcher.Fetch(ctx, searchUrl, fetch.SourceXKom)
	if err != nil {
		return nil, err
	}
	return hitsFromHtml(res.Body, "https://www.x-kom.pl")
}

func searchMorele(ctx context.Context, fetcher Fetcher, query string) ([]Hit, error) {
	base := "https://www.morele.net"
	urls := []string{
		base + "/wyszukiwarka/?search=" + url.QueryEscape(query),
		base + "/kategoria/karty-graficzne-12/?q=" + url.QueryEscape(query),
	}

	var anchorBackup []Hit
	for _, searchUrl := range urls {
		res, err := fetcher.Fetch(ctx, searchUrl, fetch.SourceMorele)
		if err != nil {
			return nil, err
		}
		hits, err := hitsFromMoreleCards(res.Body, base)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			return hits, nil
		}
		if len(anchorBackup) == 0 {
			fallback, err := hitsFromHtml(res.Body, base)
			if err == nil {
				anchorBackup = fallback
			}
		}
	}
	return anchorBackup, nil
}

// ratingRegex matches review snippets like "4,5 (123)" that some
// result cards put where the product name belongs.
var ratingRegex = regexp.MustCompile(`^\d+[.,]\d+\s*\(\d+\)`)

var xkomSlugRegex = regexp.MustCompile(`/p/\d+-([^/]+)\.html`)
var slugAcronymRegex = regexp.MustCompile(`\bpl\b|\bgb\b|\bgddr\b`)

func nameFromSlug(rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return ""
	}
	groups := xkomSlugRegex.FindStringSubmatch(u.Path)
	if len(groups) < 2 {
		return ""
	}
	slug := strings.ReplaceAll(groups[1], "-", " ")
	slug = slugAcronymRegex.ReplaceAllStringFunc(slug, strings.ToUpper)
	return strings.TrimSpace(slug)
}

func cleanHitName(raw, hitUrl string) string {
	name := strings.TrimSpace(raw)
	if name != "" && !ratingRegex.MatchString(name) {
		return name
	}
	if derived := nameFromSlug(hitUrl); derived != "" {
		return derived
	}
	return hitUrl
}

func resolveUrl(href, base string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	baseUrl, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseUrl.ResolveReference(ref).String()
}

func hitsFromHtml(rawHtml, base string) ([]Hit, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHtml))
	if err != nil {
		return nil, err
	}

	var hits []Hit
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(sel.Text()), &data); err != nil {
			return
		}
		objs, ok := data.([]any)
		if !ok {
			objs = []any{data}
		}
		for _, raw := range objs {
			obj, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if obj["@type"] == "ItemList" {
				hits = append(hits, hitsFromItemList(obj, base)...)
			}
		}
	})
	if len(hits) > 0 {
		return hits, nil
	}

	// no structured data, fall back to scanning product-looking anchors
	moreleProductRegex := regexp.MustCompile(`-\d+/?(?:[#?]|$)`)
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		fullUrl := resolveUrl(href, base)
		source := fetch.DetectSource(fullUrl)

		if source == fetch.SourceXKom && !strings.Contains(href, "/p/") {
			return
		}
		if source == fetch.SourceMorele && !moreleProductRegex.MatchString(fullUrl) {
			return
		}

		title := strings.TrimSpace(sel.AttrOr("title", ""))
		if title == "" {
			title = strings.TrimSpace(sel.Text())
		}
		hits = append(hits, Hit{
			Name:   cleanHitName(title, fullUrl),
			Url:    fullUrl,
			Source: source,
		})
	})
	return hits, nil
}

func hitsFromItemList(obj map[string]any, base string) []Hit {
	elements, ok := obj["itemListElement"].([]any)
	if !ok {
		return nil
	}

	var hits []Hit
	for _, elem := range elements {
		candidate, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if item, ok := candidate["item"].(map[string]any); ok {
			candidate = item
		}

		hitUrl, _ := candidate["url"].(string)
		if hitUrl == "" {
			hitUrl, _ = candidate["@id"].(string)
		}
		if hitUrl == "" {
			continue
		}
		hitUrl = resolveUrl(hitUrl, base)

		name, _ := candidate["name"].(string)
		hit := Hit{
			Name:   cleanHitName(name, hitUrl),
			Url:    hitUrl,
			Source: fetch.DetectSource(hitUrl),
		}

		var offer map[string]any
		switch offers := candidate["offers"].(type) {
		case map[string]any:
			offer = offers
		case []any:
			if len(offers) > 0 {
				offer, _ = offers[0].(map[string]any)
			}
		}
		if offer != nil {
			hit.PriceCents, hit.Currency = offerPrice(offer)
		}
		hits = append(hits, hit)
	}
	return hits
}

func offerPrice(offer map[string]any) (*int64, *string) {
	price := offer["price"]
	currency, _ := offer["priceCurrency"].(string)
	if spec, ok := offer["priceSpecification"].(map[string]any); ok {
		if price == nil {
			price = spec["price"]
		}
		if currency == "" {
			currency, _ = spec["priceCurrency"].(string)
		}
	}

	var currencyPtr *string
	if currency != "" {
		currencyPtr = &currency
	}

	var value float64
	switch p := price.(type) {
	case float64:
		value = p
	case string:
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(p, ",", "."), 64)
		if err != nil {
			return nil, currencyPtr
		}
		value = parsed
	default:
		return nil, currencyPtr
	}

	cents := int64(math.Round(value * 100))
	return &cents, currencyPtr
}

var morelePriceRegex = regexp.MustCompile(`(\d[\d\s]*[.,]\d{2})`)

func parseMorelePrice(text string) (*int64, *string) {
	groups := morelePriceRegex.FindStringSubmatch(text)
	if len(groups) < 2 {
		return nil, nil
	}
	raw := strings.ReplaceAll(groups[1], " ", "")
	raw = strings.ReplaceAll(raw, ",", ".")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, nil
	}
	cents := int64(math.Round(value * 100))
	currency := "PLN"
	return &cents, &currency
}

func hitsFromMoreleCards(rawHtml, base string) ([]Hit, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHtml))
	if err != nil {
		return nil, err
	}

	var hits []Hit
	doc.Find("[data-product-id]").Each(func(_ int, card *goquery.Selection) {
		href := card.Find("[data-link-href-param]").AttrOr("data-link-href-param", "")
		if href == "" {
			href = card.Find("a[href]").AttrOr("href", "")
		}
		if href == "" {
			return
		}
		fullUrl := resolveUrl(href, base)
		if fullUrl == base {
			return
		}

		priceText := card.AttrOr("data-product-price", "")
		if priceText == "" {
			priceText = strings.TrimSpace(card.Find("[data-product-price]").First().Text())
		}
		if priceText == "" {
			priceText = strings.TrimSpace(card.Find(".price-new").First().Text())
		}
		priceCents, currency := parseMorelePrice(priceText)

		hits = append(hits, Hit{
			Name:       cleanHitName(card.AttrOr("data-product-name", ""), fullUrl),
			Url:        fullUrl,
			PriceCents: priceCents,
			Currency:   currency,
			Source:     fetch.SourceMorele,
		})
	})
	return hits, nil
}

// filterByQuery keeps hits whose name or url contains every query
// token.
func filterByQuery(hits []Hit, query string) []Hit {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return hits
	}

	var out []Hit
	for _, hit := range hits {
		haystack := strings.ToLower(hit.Name + " " + hit.Url)
		keep := true
		for _, token := range tokens {
			if !strings.Contains(haystack, token) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, hit)
		}
	}
	return out
}

func dedupe(hits []Hit, limit int) []Hit {
	seen := make(map[string]bool, len(hits))
	out := make([]Hit, 0, len(hits))
	for _, hit := range hits {
		if seen[hit.Url] {
			continue
		}
		seen[hit.Url] = true
		out = append(out, hit)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
