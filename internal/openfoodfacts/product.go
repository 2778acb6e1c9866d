package openfoodfacts

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/franckalain/plateswipe/internal/models"
)

const sourceName = "openfoodfacts"

// Product is the subset of an Open Food Facts product record we read.
type Product struct {
	Code          string          `json:"code"`
	ProductName   string          `json:"product_name"`
	ProductNameEn string          `json:"product_name_en"`
	GenericName   string          `json:"generic_name"`
	Brands        string          `json:"brands"`
	Quantity      json.RawMessage `json:"quantity"`
	Categories    string          `json:"categories"`
	ImageURL      string          `json:"image_url"`
	ImageSmallURL string          `json:"image_small_url"`
	ImageThumbURL string          `json:"image_thumb_url"`
}

type productResponse struct {
	Status  int      `json:"status"`
	Code    string   `json:"code"`
	Product *Product `json:"product"`
}

type searchResponse struct {
	Count    int       `json:"count"`
	Products []Product `json:"products"`
}

// Name returns the best available name: product_name, product_name_en, then generic_name.
func (p *Product) Name() string {
	for _, n := range []string{p.ProductName, p.ProductNameEn, p.GenericName} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}

// ToIngredient converts the record, failing with a *models.ParseError when it has no name
// or a malformed barcode.
func (p *Product) ToIngredient() (*models.Ingredient, error) {
	ing := &models.Ingredient{
		Name:       p.Name(),
		Brands:     strings.TrimSpace(p.Brands),
		Quantity:   quantityString(p.Quantity),
		Categories: splitCategories(p.Categories),
		Images:     p.images(),
	}
	if code := strings.TrimSpace(p.Code); code != "" {
		v, err := strconv.ParseInt(code, 10, 64)
		if err != nil || v < 0 {
			return nil, &models.ParseError{Source: sourceName, Field: "code", Reason: "not a numeric barcode: " + code}
		}
		ing.BarCode = &v
	}
	if err := ing.Validate(sourceName); err != nil {
		return nil, err
	}
	return ing, nil
}

func (p *Product) images() map[models.ImageSize]string {
	out := map[models.ImageSize]string{}
	if u := strings.TrimSpace(p.ImageThumbURL); u != "" {
		out[models.ImageThumbnail] = u
	}
	if u := strings.TrimSpace(p.ImageSmallURL); u != "" {
		out[models.ImageSmall] = u
	}
	if u := strings.TrimSpace(p.ImageURL); u != "" {
		out[models.ImageNormal] = u
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func splitCategories(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// quantity is usually a string ("400 g") but some records carry a bare number.
func quantityString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
