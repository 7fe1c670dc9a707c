// Package normalize maps raw feed records onto a canonical attribute set.
//
// Every supplier names things differently ("Name", "product_title",
// "vendorCode"), so each canonical attribute is found by probing an ordered
// alias list case-insensitively. Nothing here fails: a value that cannot be
// found or parsed is simply absent from the Item.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/feedpipe/internal/feed"
)

// ErrNoIdentity is reported for items carrying neither an identifier nor a
// title; they cannot be matched or displayed.
var ErrNoIdentity = errors.New("item has no identifier or title")

// Canonical attribute names, as exposed by Item.Attributes.
const (
	AttrSKU        = "sku"
	AttrEAN        = "ean"
	AttrExternalID = "external_id"
	AttrTitle      = "title"
	AttrPrice      = "price"
	AttrCurrency   = "currency"
	AttrQuantity   = "quantity"
	AttrCategory   = "category"
	AttrBrand      = "brand"
	AttrImageURL   = "image_url"
)

// Aliases lists the source keys probed for each canonical attribute, in
// priority order.
var Aliases = map[string][]string{
	AttrSKU:        {"sku", "vendor_code", "vendorcode", "article", "part_number", "mpn", "product_code", "item_code", "model"},
	AttrEAN:        {"ean", "ean13", "gtin", "gtin13", "barcode", "upc"},
	AttrExternalID: {"id", "uuid", "external_id", "product_id", "item_id", "guid", "offer_id"},
	AttrTitle:      {"title", "name", "product_name", "product_title", "model_name"},
	AttrPrice:      {"price", "sale_price", "regular_price", "price_retail", "cost", "amount"},
	AttrCurrency:   {"currency", "currency_id", "currencyid", "currency_code"},
	AttrQuantity:   {"quantity", "qty", "stock", "stock_quantity", "inventory", "count", "available_quantity"},
	AttrCategory:   {"category", "category_name", "categories", "product_type", "product_category"},
	AttrBrand:      {"brand", "manufacturer", "vendor", "make"},
	AttrImageURL:   {"image_url", "image", "image_link", "picture", "img", "thumbnail"},
}

// Item is the canonical view of one feed record.
type Item struct {
	SKU        string
	EAN        string
	ExternalID string
	Title      string
	Price      *float64
	Currency   string
	Quantity   *float64
	Category   string
	Brand      string
	ImageURL   string

	Raw feed.Record
}

// Normalize derives an Item from rec. It has no side effects.
func Normalize(rec feed.Record) Item {
	it := Item{
		SKU:        text(rec, AttrSKU),
		EAN:        text(rec, AttrEAN),
		ExternalID: text(rec, AttrExternalID),
		Title:      text(rec, AttrTitle),
		Category:   text(rec, AttrCategory),
		Brand:      text(rec, AttrBrand),
		ImageURL:   text(rec, AttrImageURL),
		Currency:   strings.ToUpper(text(rec, AttrCurrency)),
		Raw:        rec,
	}

	if raw, ok := probe(rec, AttrPrice); ok {
		if n, ok := ParseNumber(raw); ok {
			it.Price = &n
		}
		if it.Currency == "" {
			it.Currency = ExtractCurrency(Stringify(raw))
		}
	}
	if raw, ok := probe(rec, AttrQuantity); ok {
		if n, ok := ParseNumber(raw); ok {
			it.Quantity = &n
		}
	}
	return it
}

// Identifier returns the supplier's stable identifier: sku, then ean, then
// an explicit id. Empty means a UID must be allocated.
func (it Item) Identifier() string {
	switch {
	case it.SKU != "":
		return it.SKU
	case it.EAN != "":
		return it.EAN
	default:
		return it.ExternalID
	}
}

// Check reports item-level problems found during normalization.
func (it Item) Check() error {
	if it.Identifier() == "" && it.Title == "" {
		return ErrNoIdentity
	}
	return nil
}

// Attributes returns the populated canonical attributes keyed by name.
func (it Item) Attributes() map[string]any {
	out := make(map[string]any, 10)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put(AttrSKU, it.SKU)
	put(AttrEAN, it.EAN)
	put(AttrExternalID, it.ExternalID)
	put(AttrTitle, it.Title)
	put(AttrCurrency, it.Currency)
	put(AttrCategory, it.Category)
	put(AttrBrand, it.Brand)
	put(AttrImageURL, it.ImageURL)
	if it.Price != nil {
		out[AttrPrice] = *it.Price
	}
	if it.Quantity != nil {
		out[AttrQuantity] = *it.Quantity
	}
	return out
}

// Attribute looks up a canonical attribute case-insensitively.
func (it Item) Attribute(name string) (any, bool) {
	v, ok := it.Attributes()[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

func probe(rec feed.Record, attr string) (any, bool) {
	for _, alias := range Aliases[attr] {
		v, ok := rec.Lookup(alias)
		if !ok || v == nil {
			continue
		}
		if s := Stringify(v); s != "" {
			return v, true
		}
	}
	return nil, false
}

func text(rec feed.Record, attr string) string {
	v, ok := probe(rec, attr)
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Stringify renders a scalar as trimmed text. Lists yield their first
// element; maps yield "".
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) == 0 {
			return ""
		}
		return Stringify(t[0])
	case map[string]any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
