package bib

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiDetector asks a Gemini model for the bib numbers.
type GeminiDetector struct {
	client *genai.Client
	model  string
}

func NewGeminiDetector(ctx context.Context, apiKey, model string) (*GeminiDetector, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiDetector{client: client, model: model}, nil
}

func (d *GeminiDetector) Name() string {
	return d.model
}

func (d *GeminiDetector) Detect(ctx context.Context, imageData []byte) ([]string, error) {
	data, err := prepareImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: data, MIMEType: "image/jpeg"}},
				{Text: prompt},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"number": {
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"number"},
		},
	}

	result, err := d.client.Models.GenerateContent(ctx, d.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	content := result.Text()
	if content == "" {
		return nil, errors.New("no response from Gemini")
	}
	return parseNumbers(content)
}
