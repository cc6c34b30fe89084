package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pricewatch-backend/lib/money"

	"github.com/PuerkitoBio/goquery"
)

// pathological documents can nest JSON-LD arbitrarily deep; the walk
// gives up past these bounds instead of recursing forever
const (
	maxWalkDepth = 64
	maxWalkNodes = 10_000
)

// jsonMember is one key/value pair of a decoded JSON object. Objects
// are kept as member slices rather than maps so that the walk visits
// fields in document order and the first offer found is the same one
// every run.
type jsonMember struct {
	key   string
	value any
}

type jsonObject []jsonMember

func (o jsonObject) get(key string) any {
	for _, m := range o {
		if m.key == key {
			return m.value
		}
	}
	return nil
}

// decodeOrdered is json.Unmarshal into the tagged union above:
// jsonObject, []any, string, float64, bool or nil.
func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		var obj jsonObject
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			value, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, jsonMember{key: key, value: value})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			value, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %q", delim.String())
}

func extractStructured(doc *goquery.Document, title *string) (Result, bool) {
	var out Result
	found := false

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return true
		}
		data, err := decodeOrdered(json.NewDecoder(strings.NewReader(raw)))
		if err != nil {
			return true
		}

		budget := maxWalkNodes
		walkObjects(data, 0, &budget, func(obj jsonObject) bool {
			offers := obj.get("offers")
			if offers == nil {
				return true
			}
			res, ok := parseOfferPrice(offers)
			if !ok {
				return true
			}
			res.Title = title
			out = res
			found = true
			return false
		})
		return !found
	})

	return out, found
}

// walkObjects visits every JSON object nested inside v, in document
// order. The visitor returns false to stop the walk.
func walkObjects(v any, depth int, budget *int, visit func(jsonObject) bool) bool {
	if depth > maxWalkDepth || *budget <= 0 {
		return false
	}
	*budget--

	switch node := v.(type) {
	case jsonObject:
		if !visit(node) {
			return false
		}
		for _, member := range node {
			if !walkObjects(member.value, depth+1, budget, visit) {
				return false
			}
		}
	case []any:
		for _, child := range node {
			if !walkObjects(child, depth+1, budget, visit) {
				return false
			}
		}
	}
	return true
}

// parseOfferPrice takes the first offer (an object, or the first
// usable element of a list) exposing a numeric or numeric-string
// price. No aggregation across multiple offers.
func parseOfferPrice(offers any) (Result, bool) {
	candidates, ok := offers.([]any)
	if !ok {
		candidates = []any{offers}
	}

	for _, c := range candidates {
		offer, ok := c.(jsonObject)
		if !ok {
			continue
		}

		price := offer.get("price")
		if price == nil {
			if spec, ok := offer.get("priceSpecification").(jsonObject); ok {
				price = spec.get("price")
			}
		}
		if price == nil {
			continue
		}

		var currency *string
		if cur, ok := offer.get("priceCurrency").(string); ok && cur != "" {
			currency = &cur
		}

		var inStock *bool
		if avail, ok := offer.get("availability").(string); ok {
			if strings.Contains(avail, "InStock") {
				v := true
				inStock = &v
			} else if strings.Contains(avail, "OutOfStock") {
				v := false
				inStock = &v
			}
		}

		switch p := price.(type) {
		case float64:
			raw := strconv.FormatFloat(p, 'f', -1, 64)
			cents, err := money.ToMinorUnits(raw)
			if err != nil {
				continue
			}
			return Result{PriceCents: &cents, Currency: currency, RawPriceText: &raw, InStock: inStock}, true
		case string:
			cents, err := money.ToMinorUnits(money.Normalize(p))
			if err != nil {
				continue
			}
			raw := p
			return Result{PriceCents: &cents, Currency: currency, RawPriceText: &raw, InStock: inStock}, true
		}
	}

	return Result{}, false
}
