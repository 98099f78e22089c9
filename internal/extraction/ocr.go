package extraction

import (
	"context"
	"strings"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// ExtractText runs the vision provider. Zero detections yield an empty
// result with confidence 0, not an error; the pipeline decides to abort.
func ExtractText(ctx context.Context, vision VisionProvider, img Image) (*OCRResult, error) {
	det, err := vision.DetectText(ctx, img)
	if err != nil {
		return nil, &model.ProviderError{Provider: "vision", Err: err}
	}
	out := &OCRResult{Blocks: []TextBlock{}, Source: SourceVision}
	if det == nil {
		return out, nil
	}
	out.Text = strings.TrimSpace(det.FullText)
	if len(det.Blocks) > 0 {
		out.Blocks = det.Blocks
		var sum float64
		for _, b := range det.Blocks {
			sum += b.Confidence
		}
		out.Confidence = sum / float64(len(det.Blocks)) * 100
	}
	if out.Text == "" && len(out.Blocks) > 0 {
		parts := make([]string, 0, len(out.Blocks))
		for _, b := range out.Blocks {
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		}
		out.Text = strings.Join(parts, "\n")
	}
	return out, nil
}
