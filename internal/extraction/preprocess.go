package extraction

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	pdfutil "github.com/dharsanguruparan/AthleteDocs/internal/pdf"
)

const (
	minLongSide = 1000
	maxLongSide = 2000
	// maxPixels bounds the decoded size of a scan.
	maxPixels = 40_000_000
)

// Artifact is the transient output of preprocessing. Path is empty for
// inputs passed through unchanged.
type Artifact struct {
	Path     string
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Preprocessor normalizes scans before OCR: long side scaled into
// [1000, 2000] px, grayscale, contrast stretched and sharpened. The result is
// written to a temp PNG so it can be inspected while debugging a run.
type Preprocessor struct {
	TempDir string
}

// Process returns the artifact for data. PDFs are returned as-is because the
// vision provider rasterizes them itself. Undecodable or oversized images are
// validation errors.
func (p *Preprocessor) Process(data []byte, mimeType string) (*Artifact, error) {
	if pdfutil.IsPDF(mimeType) {
		return &Artifact{Data: data, MIMEType: mimeType}, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("decode image: %v", err))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, model.NewValidationError(fmt.Sprintf("image dimensions %dx%d are out of range", cfg.Width, cfg.Height))
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("decode image: %v", err))
	}
	gray := toGray(scale(src))
	stretchContrast(gray)
	sharpened := sharpen(gray)

	var buf bytes.Buffer
	if err := png.Encode(&buf, sharpened); err != nil {
		return nil, fmt.Errorf("encode processed image: %w", err)
	}
	f, err := os.CreateTemp(p.TempDir, "athletedocs-*.png")
	if err != nil {
		return nil, fmt.Errorf("create processed image: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write processed image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("close processed image: %w", err)
	}
	bounds := sharpened.Bounds()
	return &Artifact{
		Path:     f.Name(),
		Data:     buf.Bytes(),
		MIMEType: "image/png",
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// Cleanup removes the temp file, if any.
func (a *Artifact) Cleanup() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove processed image: %w", err)
	}
	return nil
}

func scale(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if long == 0 || (long >= minLongSide && long <= maxLongSide) {
		return src
	}
	target := maxLongSide
	if long < minLongSide {
		target = minLongSide
	}
	nw := w * target / long
	nh := h * target / long
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
	return gray
}

// stretchContrast maps the 1st..99th luminance percentile onto 0..255.
func stretchContrast(img *image.Gray) {
	if len(img.Pix) == 0 {
		return
	}
	var hist [256]int
	for _, v := range img.Pix {
		hist[v]++
	}
	cut := len(img.Pix) / 100
	lo, hi := 0, 255
	for seen := 0; lo < 255; lo++ {
		if seen += hist[lo]; seen > cut {
			break
		}
	}
	for seen := 0; hi > 0; hi-- {
		if seen += hist[hi]; seen > cut {
			break
		}
	}
	if hi <= lo {
		return
	}
	for i, v := range img.Pix {
		img.Pix[i] = clamp((int(v) - lo) * 255 / (hi - lo))
	}
}

// sharpen applies a 3x3 sharpening kernel. Edge pixels are copied.
func sharpen(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	copy(dst.Pix, src.Pix)
	w, h := b.Dx(), b.Dy()
	at := func(x, y int) int { return int(src.Pix[y*src.Stride+x]) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := 5*at(x, y) - at(x-1, y) - at(x+1, y) - at(x, y-1) - at(x, y+1)
			dst.Pix[y*dst.Stride+x] = clamp(v)
		}
	}
	return dst
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
