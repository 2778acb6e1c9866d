// Package openfoodfacts is the fallback ingredient source backed by the Open Food Facts API.
package openfoodfacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/franckalain/plateswipe/internal/logger"
	"github.com/franckalain/plateswipe/internal/models"
)

const (
	DefaultBaseURL   = "https://world.openfoodfacts.org"
	DefaultUserAgent = "PlateSwipe/1.0 (ingredient lookup)"

	maxBodyBytes = 8 << 20
)

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	log       *logger.Logger
}

// StatusError is returned for unexpected HTTP responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openfoodfacts: unexpected status %d: %s", e.StatusCode, e.Body)
}

func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   base,
		userAgent: ua,
		http:      &http.Client{Timeout: timeout},
		log:       log.With("component", "OpenFoodFacts"),
	}
}

// Get looks a product up by barcode. It returns (nil, nil) when the product is unknown.
func (c *Client) Get(ctx context.Context, barcode int64) (*models.Ingredient, error) {
	endpoint := fmt.Sprintf("%s/api/v2/product/%d.json", c.baseURL, barcode)

	var resp productResponse
	found, err := c.getJSON(ctx, endpoint, &resp)
	if err != nil {
		return nil, err
	}
	if !found || resp.Status == 0 || resp.Product == nil {
		return nil, nil
	}
	if strings.TrimSpace(resp.Product.Code) == "" {
		resp.Product.Code = resp.Code
	}
	return resp.Product.ToIngredient()
}

// Search returns up to limit products matching name. Records that cannot be converted are skipped.
func (c *Client) Search(ctx context.Context, name string, limit int) ([]*models.Ingredient, error) {
	name = strings.TrimSpace(name)
	if name == "" || limit <= 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("search_terms", name)
	q.Set("search_simple", "1")
	q.Set("action", "process")
	q.Set("json", "1")
	q.Set("page_size", strconv.Itoa(limit))
	endpoint := c.baseURL + "/cgi/search.pl?" + q.Encode()

	var resp searchResponse
	if _, err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	results := make([]*models.Ingredient, 0, len(resp.Products))
	for i := range resp.Products {
		ing, err := resp.Products[i].ToIngredient()
		if err != nil {
			c.log.Debug("skipping search record", "code", resp.Products[i].Code, "error", err)
			continue
		}
		results = append(results, ing)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// getJSON reports found=false for a 404 so callers can treat it as a clean miss.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("openfoodfacts request: %w", err)
	}
	defer res.Body.Close()
	c.log.Debug("request done", "url", endpoint, "status", res.StatusCode, "elapsed", time.Since(start))

	if res.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
		return false, nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return false, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	dec := json.NewDecoder(io.LimitReader(res.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		var synErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &synErr) || errors.As(err, &typeErr) || errors.Is(err, io.EOF) {
			return false, &models.ParseError{Source: sourceName, Reason: "malformed response: " + err.Error()}
		}
		return false, fmt.Errorf("read response: %w", err)
	}
	return true, nil
}
