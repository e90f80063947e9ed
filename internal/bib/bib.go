// Package bib reads race bib numbers from photos and normalizes them for
// text search.
package bib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/kozaktomas/race-photos/internal/config"
	"github.com/kozaktomas/race-photos/internal/photo"
)

// ErrNoProvider is returned by New when BIB_PROVIDER is not set.
var ErrNoProvider = errors.New("no bib detection provider configured")

const (
	maxImageSide = 800
	prompt       = "What are the numbers printed on the race bibs visible in this photo? " +
		`Answer with JSON {"number": ["..."]} listing every bib number found, or an empty list.`
)

// Detector finds bib numbers in a photo.
type Detector interface {
	Name() string
	Detect(ctx context.Context, imageData []byte) ([]string, error)
}

// New builds the detector selected by cfg.Provider.
func New(ctx context.Context, cfg config.BibConfig) (Detector, error) {
	switch cfg.Provider {
	case "":
		return nil, ErrNoProvider
	case "gemini":
		d, err := NewGeminiDetector(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "openai":
		return NewOpenAIDetector(cfg.OpenAIToken, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown bib provider %q", cfg.Provider)
	}
}

// Normalize folds full-width and compatibility characters, drops everything
// that is not a letter or digit and uppercases the rest, so "１２３" and
// " 123 " both become "123".
func Normalize(s string) string {
	s = norm.NFKC.String(width.Fold.String(s))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// NormalizeAll normalizes bibs, dropping empty and repeated entries while
// keeping the first-seen order.
func NormalizeAll(bibs []string) []string {
	out := make([]string, 0, len(bibs))
	seen := make(map[string]bool, len(bibs))
	for _, raw := range bibs {
		b := Normalize(raw)
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// prepareImage downscales the photo to keep model requests small.
func prepareImage(imageData []byte) ([]byte, error) {
	img, err := photo.Decode(imageData)
	if err != nil {
		return nil, err
	}
	return photo.EncodeJPEG(photo.Fit(img, maxImageSide))
}

// parseNumbers reads {"number": [...]} where entries may be strings or
// bare JSON numbers.
func parseNumbers(content string) ([]string, error) {
	var resp struct {
		Number []json.RawMessage `json:"number"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse bib JSON: %w (response: %s)", err, content)
	}

	numbers := make([]string, 0, len(resp.Number))
	for _, raw := range resp.Number {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			numbers = append(numbers, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("unexpected bib entry %s", raw)
		}
		numbers = append(numbers, n.String())
	}
	return NormalizeAll(numbers), nil
}
