// Package extract turns raw product-page HTML into a best-effort
// structured price. Extraction tiers are tried in strict priority
// order; the first tier that produces a usable price wins and no
// merging happens across tiers.
package extract

import (
	"regexp"
	"strings"

	"pricewatch-backend/lib/htmlutil"
	"pricewatch-backend/lib/money"

	"github.com/PuerkitoBio/goquery"
)

const (
	ErrBlocked       = "Blocked by anti-bot / CAPTCHA"
	ErrPriceNotFound = "Price not found"
)

type Result struct {
	PriceCents   *int64
	Currency     *string
	Title        *string
	RawPriceText *string
	InStock      *bool
	Err          *string
}

var priceRegex = regexp.MustCompile(`(?i)(\d[\d\s\x{00A0}.,]*)[\s\x{00A0}]*(zł|pln|eur|€)`)

// Extract parses HTML and locates a price through, in order: embedded
// JSON-LD product data, product meta tags and a free-text pattern
// match. Title extraction is independent of the price outcome.
func Extract(rawHtml string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHtml))
	if err != nil {
		msg := "Unparseable document: " + err.Error()
		return Result{Err: &msg}
	}

	title := extractTitle(doc)

	// the captcha token alone is too weak a signal: plenty of pages
	// mention captchas in footers or policy text, so it only counts
	// when the amazon marker co-occurs
	lower := strings.ToLower(rawHtml)
	if strings.Contains(lower, "robot check") ||
		(strings.Contains(lower, "captcha") && strings.Contains(lower, "amazon")) {
		msg := ErrBlocked
		return Result{Title: title, Err: &msg}
	}

	if res, ok := extractStructured(doc, title); ok {
		return res
	}
	if res, ok := extractMetaTags(doc, title); ok {
		return res
	}
	if res, ok := extractFreeText(doc, title); ok {
		return res
	}

	msg := ErrPriceNotFound
	return Result{Title: title, Err: &msg}
}

func extractTitle(doc *goquery.Document) *string {
	if og := htmlutil.MetaContent(doc, "og:title"); og != "" {
		return &og
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return &t
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		h1 = htmlutil.CleanText(h1)
		return &h1
	}
	return nil
}

func extractMetaTags(doc *goquery.Document, title *string) (Result, bool) {
	amount := htmlutil.MetaContent(doc, "product:price:amount")
	if amount == "" {
		return Result{}, false
	}
	cents, err := money.ToMinorUnits(money.Normalize(amount))
	if err != nil || cents <= 0 {
		return Result{}, false
	}

	var currency *string
	if cur := htmlutil.MetaContent(doc, "product:price:currency"); cur != "" {
		currency = &cur
	}
	return Result{
		PriceCents:   &cents,
		Currency:     currency,
		Title:        title,
		RawPriceText: &amount,
	}, true
}

func extractFreeText(doc *goquery.Document, title *string) (Result, bool) {
	text := htmlutil.VisibleText(doc)
	m := priceRegex.FindStringSubmatch(text)
	if m == nil {
		return Result{}, false
	}
	rawNum, curToken := m[1], m[2]

	cents, err := money.ToMinorUnits(money.Normalize(rawNum))
	if err != nil || cents <= 0 {
		return Result{}, false
	}

	var currency *string
	switch strings.ToLower(curToken) {
	case "zł", "pln":
		pln := "PLN"
		currency = &pln
	case "eur", "€":
		eur := "EUR"
		currency = &eur
	}

	raw := strings.TrimSpace(rawNum) + " " + curToken
	return Result{
		PriceCents:   &cents,
		Currency:     currency,
		Title:        title,
		RawPriceText: &raw,
	}, true
}
