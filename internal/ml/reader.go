package ml

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/franckalain/plateswipe/internal/logger"
	"github.com/franckalain/plateswipe/internal/models"
)

// ErrNoLabel is returned when the photo does not show a readable product label
var ErrNoLabel = errors.New("no readable product label")

// LabelReader extracts product details from a photo of its packaging
type LabelReader interface {
	// Load initializes the reader with its configuration
	Load(ctx context.Context) error
	// ReadLabel takes a JPEG/PNG image and returns what it could read off the package
	ReadLabel(ctx context.Context, imageData []byte) (*models.Label, error)
}

// ReaderFactory creates a new reader instance based on configuration
type ReaderFactory interface {
	CreateReader() (LabelReader, error)
}

// NewLabelReader creates a reader of the given type. It returns (nil, nil) for "none",
// which disables label reading.
func NewLabelReader(readerType, configPath string, log *logger.Logger) (LabelReader, error) {
	if log == nil {
		log = logger.Nop()
	}
	var factory ReaderFactory

	switch strings.ToLower(strings.TrimSpace(readerType)) {
	case "", "none":
		return nil, nil
	case "google":
		config := GoogleConfig{
			BaseConfig: BaseConfig{
				ConfigPath: configPath,
			},
		}
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load Google config: %w", err)
		}
		log.Info("Loaded Google config", "source", config.Source, "model", config.Model)
		factory = NewGoogleReaderFactory(config)
	default:
		return nil, fmt.Errorf("unsupported label reader type: %s", readerType)
	}
	return factory.CreateReader()
}
