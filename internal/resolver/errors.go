package resolver

import (
	"errors"
	"fmt"

	"github.com/franckalain/plateswipe/internal/models"
)

// ErrNotFound is returned when both sources were queried and neither knows the ingredient.
var ErrNotFound = errors.New("ingredient not found")

// ErrInvalidQuery is returned for searches without a usable name.
var ErrInvalidQuery = errors.New("invalid search query")

type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindParse     ErrorKind = "parse"
)

// SourceError reports a source that could not be reached or returned an unusable record.
type SourceError struct {
	Source Source
	Op     string
	Kind   ErrorKind
	Err    error
}

func (e *SourceError) Error() string {
	if e == nil {
		return "ingredient source failed"
	}
	return fmt.Sprintf("%s %s failed (%s): %v", e.Source, e.Op, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func sourceErr(src Source, op string, err error) error {
	kind := KindTransport
	var perr *models.ParseError
	if errors.As(err, &perr) {
		kind = KindParse
	}
	return &SourceError{Source: src, Op: op, Kind: kind, Err: err}
}
