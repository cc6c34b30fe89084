package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractStructuredOffer(t *testing.T) {
	html := `
	<html><head>
	  <title>GPU - x-kom</title>
	  <script type="application/ld+json">
	    {
	      "@context":"https://schema.org",
	      "@type":"Product",
	      "name":"Test GPU",
	      "offers": {"@type":"Offer","price":"2899.00","priceCurrency":"PLN"}
	    }
	  </script>
	</head><body></body></html>
	`
	res := Extract(html)
	require.Nil(t, res.Err)
	require.NotNil(t, res.PriceCents)
	require.Equal(t, int64(289900), *res.PriceCents)
	require.NotNil(t, res.Currency)
	require.Equal(t, "PLN", *res.Currency)
	require.NotNil(t, res.Title)
	require.Equal(t, "GPU - x-kom", *res.Title)
	require.NotNil(t, res.RawPriceText)
	require.Equal(t, "2899.00", *res.RawPriceText)
}

func TestExtractStructuredOfferList(t *testing.T) {
	html := `
	<html><head>
	  <script type="application/ld+json">
	    {
	      "@type":"Product",
	      "offers": [
	        {"@type":"Offer"},
	        {"@type":"Offer","price":199.99,"priceCurrency":"EUR","availability":"https://schema.org/InStock"}
	      ]
	    }
	  </script>
	</head><body></body></html>
	`
	res := Extract(html)
	require.Nil(t, res.Err)
	require.Equal(t, int64(19999), *res.PriceCents)
	require.Equal(t, "EUR", *res.Currency)
	require.NotNil(t, res.InStock)
	require.True(t, *res.InStock)
}

func TestExtractMetaTags(t *testing.T) {
	html := `
	<html><head>
	  <meta property="og:title" content="Karta graficzna XYZ" />
	  <meta property="product:price:amount" content="1 299,00" />
	  <meta property="product:price:currency" content="PLN" />
	</head><body></body></html>
	`
	res := Extract(html)
	require.Nil(t, res.Err)
	require.Equal(t, int64(129900), *res.PriceCents)
	require.Equal(t, "PLN", *res.Currency)
	require.Equal(t, "Karta graficzna XYZ", *res.Title)
}

func TestExtractFreeText(t *testing.T) {
	html := `
	<html><head>
	  <meta property="og:title" content="Karta graficzna XYZ" />
	</head><body>
	  <div>cena: 5 033,09 zł</div>
	</body></html>
	`
	res := Extract(html)
	require.Nil(t, res.Err)
	require.Equal(t, int64(503309), *res.PriceCents)
	require.Equal(t, "PLN", *res.Currency)
	require.Equal(t, "Karta graficzna XYZ", *res.Title)
}

func TestExtractPriceNotFound(t *testing.T) {
	html := `<html><head><title>Nothing here</title></head><body><p>no prices</p></body></html>`
	res := Extract(html)
	require.Nil(t, res.PriceCents)
	require.NotNil(t, res.Err)
	require.Equal(t, ErrPriceNotFound, *res.Err)
	require.Equal(t, "Nothing here", *res.Title)
}

func TestExtractAntiBot(t *testing.T) {
	html := `<html><head><title>Robot Check</title></head><body>Type the characters you see</body></html>`
	res := Extract(html)
	require.NotNil(t, res.Err)
	require.Equal(t, ErrBlocked, *res.Err)
	require.Nil(t, res.PriceCents)

	// the captcha token alone must not trip the detector
	html = `<html><body>our captcha policy is described here. cena: 100,00 zł</body></html>`
	res = Extract(html)
	require.Nil(t, res.Err)
	require.Equal(t, int64(10000), *res.PriceCents)

	// but captcha plus the amazon marker must
	html = `<html><body>amazon wants you to solve a captcha</body></html>`
	res = Extract(html)
	require.NotNil(t, res.Err)
	require.Equal(t, ErrBlocked, *res.Err)
}

func TestExtractTitleFallbacks(t *testing.T) {
	res := Extract(`<html><body><h1> Some   Product </h1></body></html>`)
	require.NotNil(t, res.Title)
	require.Equal(t, "Some Product", *res.Title)

	res = Extract(`<html><body><p>untitled</p></body></html>`)
	require.Nil(t, res.Title)
}

func TestExtractStructuredSiblingOffersDocumentOrder(t *testing.T) {
	// two sibling objects both carry offers; the one that appears
	// first in the document must win on every run
	html := `
	<html><head>
	  <script type="application/ld+json">
	    {
	      "@type":"WebPage",
	      "mainEntity": {
	        "@type":"Product",
	        "offers": {"price":"100.00","priceCurrency":"PLN"}
	      },
	      "related": {
	        "@type":"Product",
	        "offers": {"price":"999.00","priceCurrency":"PLN"}
	      }
	    }
	  </script>
	</head><body></body></html>
	`
	for i := 0; i < 200; i++ {
		res := Extract(html)
		require.Nil(t, res.Err)
		require.Equal(t, int64(10000), *res.PriceCents, "iteration %d", i)
	}
}

func TestDecodeOrderedPreservesMemberOrder(t *testing.T) {
	raw := `{"b": 1, "a": {"x": [1, "two", true, null]}, "c": 2}`
	v, err := decodeOrdered(json.NewDecoder(strings.NewReader(raw)))
	require.NoError(t, err)

	obj, ok := v.(jsonObject)
	require.True(t, ok)
	require.Equal(t, []string{"b", "a", "c"}, memberKeys(obj))

	inner, ok := obj.get("a").(jsonObject)
	require.True(t, ok)
	arr, ok := inner.get("x").([]any)
	require.True(t, ok)
	require.Equal(t, []any{float64(1), "two", true, nil}, arr)
}

func memberKeys(obj jsonObject) []string {
	keys := make([]string, len(obj))
	for i, m := range obj {
		keys[i] = m.key
	}
	return keys
}

func TestExtractStructuredWinsOverFreeText(t *testing.T) {
	html := `
	<html><head>
	  <script type="application/ld+json">
	    {"@type":"Product","offers":{"price":"100.00","priceCurrency":"PLN"}}
	  </script>
	</head><body>cena: 999,99 zł</body></html>
	`
	res := Extract(html)
	require.Equal(t, int64(10000), *res.PriceCents)
}
