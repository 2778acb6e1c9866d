package models

import (
	"fmt"
	"strings"
)

// ImageSize tags an ingredient image URL by resolution
type ImageSize string

const (
	ImageThumbnail ImageSize = "thumbnail"
	ImageSmall     ImageSize = "small"
	ImageNormal    ImageSize = "normal"
)

// Ingredient represents a resolved ingredient, from the primary store or the fallback source
type Ingredient struct {
	UID        string               `json:"uid,omitempty"`     // assigned by the primary store on first save
	BarCode    *int64               `json:"barcode,omitempty"` // nil for ingredients only known by name
	Name       string               `json:"name"`
	Brands     string               `json:"brands,omitempty"`
	Quantity   string               `json:"quantity,omitempty"` // free-form, e.g. "400g"
	Categories []string             `json:"categories,omitempty"`
	Images     map[ImageSize]string `json:"images,omitempty"`
}

// Label is what the label reader could extract from a package photo
type Label struct {
	Name     string `json:"name"`
	Brands   string `json:"brands,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	BarCode  *int64 `json:"barcode,omitempty"`
}

// ParseError reports a record that could not be turned into a valid Ingredient
type ParseError struct {
	Source string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e == nil {
		return "parse error"
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.Source, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

// Validate checks the ingredient invariants. source names the origin of the record in the error.
func (i *Ingredient) Validate(source string) error {
	if i == nil {
		return &ParseError{Source: source, Reason: "empty record"}
	}
	if strings.TrimSpace(i.Name) == "" {
		return &ParseError{Source: source, Field: "name", Reason: "missing or empty"}
	}
	return nil
}

// Key returns the natural key used for upserts: the barcode when present, else the normalized name.
func (i *Ingredient) Key() string {
	if i.BarCode != nil {
		return fmt.Sprintf("barcode:%d", *i.BarCode)
	}
	return "name:" + NormalizeName(i.Name)
}

// Clone returns a deep copy so callers never share slices or maps with a stored value.
func (i *Ingredient) Clone() *Ingredient {
	if i == nil {
		return nil
	}
	out := *i
	if i.BarCode != nil {
		bc := *i.BarCode
		out.BarCode = &bc
	}
	if i.Categories != nil {
		out.Categories = append([]string(nil), i.Categories...)
	}
	if i.Images != nil {
		out.Images = make(map[ImageSize]string, len(i.Images))
		for k, v := range i.Images {
			out.Images[k] = v
		}
	}
	return &out
}

// NormalizeName lowercases and collapses whitespace for name matching
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// BarCodePtr is a small helper for building ingredients with a barcode
func BarCodePtr(v int64) *int64 {
	return &v
}
