package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/franckalain/plateswipe/internal/resolver"
)

const (
	codeNotFound          = "not_found"
	codeInvalidBarcode    = "invalid_barcode"
	codeInvalidQuery      = "invalid_query"
	codeSourceUnavailable = "source_unavailable"
	codeParseError        = "parse_error"
	codeInternal          = "internal"
)

func (s *Server) handleGetByBarcode(c *gin.Context) {
	barcode, err := parseBarcode(c.Param("barcode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidBarcode, "message": err.Error()})
		return
	}

	ing, err := s.resolver.Get(c.Request.Context(), barcode)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ing)
}

func (s *Server) handleSearch(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	count := 0
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidQuery, "message": "count must be a non-negative integer"})
			return
		}
		count = n
	}

	items, err := s.resolver.Search(c.Request.Context(), name, count)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("ingredient lookup failed", "path", c.FullPath(), "code", code, "error", err)
	}
	c.JSON(status, gin.H{"code": code, "message": err.Error()})
}

// classify maps resolver outcomes to an HTTP status and a stable error code
func classify(err error) (int, string) {
	var serr *resolver.SourceError
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, resolver.ErrInvalidQuery):
		return http.StatusBadRequest, codeInvalidQuery
	case errors.As(err, &serr) && serr.Kind == resolver.KindParse:
		return http.StatusBadGateway, codeParseError
	case errors.As(err, &serr):
		return http.StatusBadGateway, codeSourceUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func parseBarcode(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("barcode must be a non-negative integer")
	}
	return v, nil
}
