// Package vertex adapts Vertex AI Gemini models to the extraction provider
// interfaces. One client serves both the vision OCR call and the JSON
// extraction and classification calls.
package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/dharsanguruparan/AthleteDocs/internal/extraction"
)

const ocrSystemPrompt = "You are an OCR engine for scanned identity documents. Transcribe every piece of visible text exactly as printed. Output only valid JSON."

const ocrUserPrompt = `Read all text in the attached document.
Return a JSON object with two keys:
- "full_text": the complete text in reading order, lines separated by "\n".
- "blocks": an array of objects, one per text line, each with
  "text" (string), "confidence" (number between 0 and 1) and
  "bounding_box" ({"x","y","width","height"} in pixels).
If the document contains no text, return {"full_text": "", "blocks": []}.`

// Client holds the base genai client and the model name used for every call.
type Client struct {
	base  *genai.Client
	model string
}

// NewClient connects to Vertex AI in the given project and region.
func NewClient(ctx context.Context, projectID, region, model string) (*Client, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex: project and region must be set")
	}
	base, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Client{base: base, model: model}, nil
}

func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

// jsonModel returns a deterministic model forced to JSON output.
func (c *Client) jsonModel(system string) *genai.GenerativeModel {
	m := c.base.GenerativeModel(c.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}
	return m
}

type ocrResponse struct {
	FullText string                 `json:"full_text"`
	Blocks   []extraction.TextBlock `json:"blocks"`
}

// DetectText implements extraction.VisionProvider.
func (c *Client) DetectText(ctx context.Context, img extraction.Image) (*extraction.Detection, error) {
	resp, err := c.jsonModel(ocrSystemPrompt).GenerateContent(ctx,
		genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
		genai.Text(ocrUserPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("generate ocr content: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	var out ocrResponse
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("parse ocr json: %w", err)
	}
	for i := range out.Blocks {
		out.Blocks[i].Confidence = clampUnit(out.Blocks[i].Confidence)
	}
	return &extraction.Detection{FullText: out.FullText, Blocks: out.Blocks}, nil
}

// GenerateJSON implements extraction.LanguageModel. The purpose only labels
// errors.
func (c *Client) GenerateJSON(ctx context.Context, purpose string, prompt extraction.Prompt) (string, error) {
	resp, err := c.jsonModel(prompt.System).GenerateContent(ctx, genai.Text(prompt.User))
	if err != nil {
		return "", fmt.Errorf("generate %s content: %w", purpose, err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned an empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini response has no text parts")
	}
	return b.String(), nil
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
