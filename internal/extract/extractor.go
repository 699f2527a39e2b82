package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/product-scraper/internal/clock/system"
	"github.com/JakeFAU/product-scraper/internal/crawler"
)

// SpecificationDelimiter joins specification entries.
const SpecificationDelimiter = " | "

// Extractor reads product fields from a parsed document.
type Extractor struct {
	table        Table
	availability string
	clock        crawler.Clock
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithAvailabilityDefault overrides the value recorded when availability is absent.
func WithAvailabilityDefault(value string) Option {
	return func(e *Extractor) {
		if strings.TrimSpace(value) != "" {
			e.availability = value
		}
	}
}

// WithClock sets the clock used to stamp ExtractedAt.
func WithClock(clock crawler.Clock) Option {
	return func(e *Extractor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New builds an Extractor for the table. A nil table uses DefaultTable.
func New(table Table, opts ...Option) *Extractor {
	if table == nil {
		table = DefaultTable()
	}
	e := &Extractor{
		table:        table,
		availability: crawler.DefaultAvailability,
		clock:        system.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractHTML parses the snapshot and extracts a record from it.
func (e *Extractor) ExtractHTML(html string, finalURL string) (crawler.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.Record{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return e.Extract(doc, finalURL), nil
}

// Extract walks every field chain against doc. It never fails: a field whose
// strategies all miss stays nil. SourceURL is always finalURL.
func (e *Extractor) Extract(doc *goquery.Document, finalURL string) crawler.Record {
	rec := crawler.Record{
		SourceURL:   finalURL,
		ExtractedAt: e.clock.Now(),
	}
	if doc == nil {
		rec.Availability = e.availability
		return rec
	}
	sel := doc.Selection

	rec.ProductName = firstValue(sel, e.table[FieldProductName])
	rec.Price = firstPrice(sel, e.table[FieldPrice])
	rec.Currency = firstValue(sel, e.table[FieldCurrency])
	rec.Description = firstValue(sel, e.table[FieldDescription])
	rec.Specification = specification(sel, e.table[FieldSpecification])
	rec.Brand = firstValue(sel, e.table[FieldBrand])
	rec.SKU = firstValue(sel, e.table[FieldSKU])
	rec.ImageURL = resolveAgainst(firstValue(sel, withDefaultAttr(e.table[FieldImage], "src")), finalURL)

	rec.Availability = e.availability
	if v := firstValue(sel, e.table[FieldAvailability]); v != nil {
		rec.Availability = *v
	}
	return rec
}

func firstValue(root *goquery.Selection, chain []Strategy) *string {
	for _, s := range chain {
		if v := strategyValues(root, s, true); len(v) > 0 {
			return &v[0]
		}
	}
	return nil
}

// firstPrice parses the first non-empty price text. An unparsable value
// leaves the price unset rather than falling through to later strategies.
func firstPrice(root *goquery.Selection, chain []Strategy) *float64 {
	v := firstValue(root, chain)
	if v == nil {
		return nil
	}
	return ParsePrice(*v)
}

// specification uses only the first strategy that yields any text.
func specification(root *goquery.Selection, chain []Strategy) *string {
	for _, s := range chain {
		values := strategyValues(root, s, false)
		if len(values) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(values))
		unique := make([]string, 0, len(values))
		for _, v := range values {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			unique = append(unique, v)
		}
		joined := strings.Join(unique, SpecificationDelimiter)
		return &joined
	}
	return nil
}

func strategyValues(root *goquery.Selection, s Strategy, firstOnly bool) []string {
	var out []string
	root.Find(s.Selector).EachWithBreak(func(_ int, node *goquery.Selection) bool {
		var raw string
		if s.Attr == "" {
			raw = elementText(node)
		} else {
			raw, _ = node.Attr(s.Attr)
		}
		if v := normalizeText(raw); v != "" {
			out = append(out, v)
			return !firstOnly
		}
		return true
	})
	return out
}

// elementText joins descendant text nodes with spaces so adjacent cells such
// as <td>Potencia</td><td>650W</td> stay separated. Script and style bodies
// are skipped.
func elementText(sel *goquery.Selection) string {
	parts := make([]string, 0, 4)
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "#text":
			parts = append(parts, child.Text())
		case "script", "style", "noscript":
		default:
			parts = append(parts, elementText(child))
		}
	})
	return strings.Join(parts, " ")
}

func normalizeText(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func withDefaultAttr(chain []Strategy, attr string) []Strategy {
	out := make([]Strategy, len(chain))
	for i, s := range chain {
		if s.Attr == "" {
			s.Attr = attr
		}
		out[i] = s
	}
	return out
}

func resolveAgainst(ref *string, base string) *string {
	if ref == nil {
		return nil
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ref
	}
	target, err := url.Parse(*ref)
	if err != nil {
		return ref
	}
	resolved := baseURL.ResolveReference(target).String()
	return &resolved
}
