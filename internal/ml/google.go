package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/franckalain/plateswipe/internal/models"
)

// GoogleConfig holds configuration for the Vertex AI reader
type GoogleConfig struct {
	BaseConfig
	ProjectID       string `json:"project_id"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	Model           string `json:"model"`

	// Source is the file the settings came from, or "env"
	Source string `json:"-"`
}

// Load loads the Google configuration
func (c *GoogleConfig) Load() error {
	source, err := c.LoadConfig(c.ConfigPath, "google", c)
	if err != nil {
		return err
	}
	c.Source = source

	// Fall back to environment variables if not set
	if c.ProjectID == "" {
		c.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if c.Location == "" {
		c.Location = os.Getenv("GOOGLE_LOCATION")
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}
	if c.Model == "" {
		c.Model = "gemini-1.5-flash"
	}
	if c.ProjectID == "" || c.Location == "" {
		return fmt.Errorf("google project id and location are required")
	}
	return nil
}

// GoogleReader implements LabelReader with a Gemini model on Vertex AI
type GoogleReader struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// GoogleReaderFactory implements ReaderFactory for Google readers
type GoogleReaderFactory struct {
	config GoogleConfig
}

func NewGoogleReaderFactory(config GoogleConfig) *GoogleReaderFactory {
	return &GoogleReaderFactory{config: config}
}

func (f *GoogleReaderFactory) CreateReader() (LabelReader, error) {
	return &GoogleReader{config: f.config}, nil
}

// Load initializes the Vertex AI client
func (m *GoogleReader) Load(ctx context.Context) error {
	opts := []option.ClientOption{}
	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.Model)
	m.model.ResponseMIMEType = "application/json"
	return nil
}

const labelPrompt = `This is a photo of a grocery product. Read its packaging and answer with a JSON object
with exactly one of "error" or "success" populated:
{
	"error": {
		"error_reason": "string"
	},
	"success": {
		"name": "string, the product name as printed",
		"brands": "string, comma separated brands, empty if unknown",
		"quantity": "string, net quantity as printed (e.g. 400 g), empty if unknown",
		"barcode": "string, the EAN/UPC digits if a barcode number is legible, else empty"
	}
}
If no product name is legible, populate "error".`

// ReadLabel asks the model to read the product label in the image
func (m *GoogleReader) ReadLabel(ctx context.Context, imageData []byte) (*models.Label, error) {
	if m.model == nil {
		return nil, fmt.Errorf("reader not loaded")
	}

	format := "jpeg"
	if ct := http.DetectContentType(imageData); strings.HasPrefix(ct, "image/") {
		format = strings.TrimPrefix(ct, "image/")
	}
	img := genai.ImageData(format, imageData)

	resp, err := m.model.GenerateContent(ctx, genai.Text(labelPrompt), img)
	if err != nil {
		return nil, fmt.Errorf("failed to call ai: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response generated")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response part %T", resp.Candidates[0].Content.Parts[0])
	}
	return parseLabelResponse(string(text))
}

type labelOutput struct {
	Error *struct {
		ErrorReason string `json:"error_reason"`
	} `json:"error"`
	Success *struct {
		Name     string `json:"name"`
		Brands   string `json:"brands"`
		Quantity string `json:"quantity"`
		Barcode  string `json:"barcode"`
	} `json:"success"`
}

func parseLabelResponse(text string) (*models.Label, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var output labelOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &output); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	if output.Error != nil && output.Error.ErrorReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoLabel, output.Error.ErrorReason)
	}
	if output.Success == nil || strings.TrimSpace(output.Success.Name) == "" {
		return nil, ErrNoLabel
	}

	label := &models.Label{
		Name:     strings.TrimSpace(output.Success.Name),
		Brands:   strings.TrimSpace(output.Success.Brands),
		Quantity: strings.TrimSpace(output.Success.Quantity),
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, output.Success.Barcode)
	// EAN-8 is the shortest code worth resolving
	if len(digits) >= 8 {
		if v, err := strconv.ParseInt(digits, 10, 64); err == nil {
			label.BarCode = &v
		}
	}
	return label, nil
}
