package extract

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field names a column of the extracted record.
type Field string

// Extractable fields.
const (
	FieldProductName   Field = "product_name"
	FieldPrice         Field = "price"
	FieldCurrency      Field = "currency"
	FieldDescription   Field = "description"
	FieldSpecification Field = "specification"
	FieldBrand         Field = "brand"
	FieldAvailability  Field = "availability"
	FieldSKU           Field = "sku"
	FieldImage         Field = "image_url"
)

var knownFields = map[Field]struct{}{
	FieldProductName:   {},
	FieldPrice:         {},
	FieldCurrency:      {},
	FieldDescription:   {},
	FieldSpecification: {},
	FieldBrand:         {},
	FieldAvailability:  {},
	FieldSKU:           {},
	FieldImage:         {},
}

// Strategy locates a field value with a CSS selector. An empty Attr reads the
// element text; otherwise the named attribute is read.
type Strategy struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
}

// Table maps each field to its ordered strategy chain.
type Table map[Field][]Strategy

// DefaultTable returns the built-in chains: VTEX storefront selectors first,
// then schema.org microdata and OpenGraph fallbacks.
func DefaultTable() Table {
	return Table{
		FieldProductName: {
			{Name: "vtex", Selector: "h1.vtex-store-components-3-x-productNameContainer"},
			{Name: "microdata", Selector: `h1[itemprop="name"]`},
			{Name: "opengraph", Selector: `meta[property="og:title"]`, Attr: "content"},
		},
		FieldPrice: {
			{Name: "vtex", Selector: ".vtex-product-price-1-x-sellingPriceValue"},
			{Name: "microdata", Selector: `[itemprop="price"]`, Attr: "content"},
			{Name: "microdata-text", Selector: `[itemprop="price"]`},
			{Name: "opengraph", Selector: `meta[property="product:price:amount"]`, Attr: "content"},
		},
		FieldCurrency: {
			{Name: "vtex", Selector: ".vtex-product-price-1-x-currencyContainer"},
			{Name: "microdata", Selector: `[itemprop="priceCurrency"]`, Attr: "content"},
			{Name: "opengraph", Selector: `meta[property="product:price:currency"]`, Attr: "content"},
		},
		FieldDescription: {
			{Name: "vtex", Selector: ".vtex-store-components-3-x-productDescriptionText"},
			{Name: "microdata", Selector: `[itemprop="description"]`},
			{Name: "meta", Selector: `meta[name="description"]`, Attr: "content"},
		},
		FieldSpecification: {
			{Name: "vtex", Selector: ".vtex-store-components-3-x-specificationsTableRow"},
			{Name: "microdata", Selector: `[itemprop="additionalProperty"]`},
			{Name: "list", Selector: ".product-specifications li"},
		},
		FieldBrand: {
			{Name: "vtex", Selector: ".vtex-store-components-3-x-brandName"},
			{Name: "microdata", Selector: `[itemprop="brand"] [itemprop="name"]`},
			{Name: "microdata-meta", Selector: `meta[itemprop="brand"]`, Attr: "content"},
			{Name: "opengraph", Selector: `meta[property="product:brand"]`, Attr: "content"},
		},
		FieldAvailability: {
			{Name: "vtex", Selector: ".vtex-product-availability-1-x-availabilityMessage"},
			{Name: "microdata", Selector: `[itemprop="availability"]`},
		},
		FieldSKU: {
			{Name: "vtex-text", Selector: "[data-sku]"},
			{Name: "vtex-attr", Selector: "[data-sku]", Attr: "data-sku"},
			{Name: "microdata", Selector: `[itemprop="sku"]`},
			{Name: "microdata-meta", Selector: `meta[itemprop="sku"]`, Attr: "content"},
		},
		FieldImage: {
			{Name: "vtex", Selector: ".vtex-store-components-3-x-productImageTag", Attr: "src"},
			{Name: "microdata", Selector: `img[itemprop="image"]`, Attr: "src"},
			{Name: "opengraph", Selector: `meta[property="og:image"]`, Attr: "content"},
		},
	}
}

// Validate rejects unknown fields and strategies without a selector.
func (t Table) Validate() error {
	for field, chain := range t {
		if _, ok := knownFields[field]; !ok {
			return fmt.Errorf("unknown field %q", field)
		}
		for i, s := range chain {
			if strings.TrimSpace(s.Selector) == "" {
				return fmt.Errorf("%s strategy %d: selector is required", field, i)
			}
		}
	}
	return nil
}

// Merge returns a copy of t where every field present in overrides replaces
// the chain in t.
func (t Table) Merge(overrides Table) Table {
	out := make(Table, len(t)+len(overrides))
	for field, chain := range t {
		out[field] = append([]Strategy(nil), chain...)
	}
	for field, chain := range overrides {
		out[field] = append([]Strategy(nil), chain...)
	}
	return out
}

// Fields returns the configured field names in a stable order.
func (t Table) Fields() []Field {
	out := make([]Field, 0, len(t))
	for f := range t {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadTable reads a YAML selector file and merges it over DefaultTable. The
// file maps field names to strategy lists:
//
//	price:
//	  - name: store-x
//	    selector: span.price
//	sku:
//	  - name: data-attr
//	    selector: "[data-product-id]"
//	    attr: data-product-id
func LoadTable(path string) (Table, error) {
	// #nosec G304 -- the selector file path comes from operator configuration.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selector table: %w", err)
	}
	var overrides Table
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("decode selector table: %w", err)
	}
	if err := overrides.Validate(); err != nil {
		return nil, fmt.Errorf("validate selector table: %w", err)
	}
	return DefaultTable().Merge(overrides), nil
}
