package tool

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
)

const (
	pdfRenderDPI = 120
	pdfMaxExtent = 512
	pdfPageLimit = 20
	jpegQuality  = 85
)

type ReadPDFRequest struct {
	FilePath string `json:"file_path" jsonschema_description:"Local path of the PDF"`
	MaxPages int    `json:"max_pages,omitempty" jsonschema_description:"Pages to render, default and max 20"`
}

func registerPDFTools(r *Registry) {
	Register(r, "read_pdf",
		"Render a local PDF page by page into inline page images the model can look at.",
		ClassRead, readPDF)
}

func readPDF(_ context.Context, in ReadPDFRequest) (string, error) {
	if isURL(in.FilePath) {
		return "", errors.Errorf("read_pdf works on local files only, got a URL: %s", in.FilePath)
	}

	doc, err := fitz.New(in.FilePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open PDF %s", in.FilePath)
	}
	defer doc.Close()

	limit := in.MaxPages
	if limit <= 0 || limit > pdfPageLimit {
		limit = pdfPageLimit
	}
	pageCount := min(doc.NumPage(), limit)

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d page(s)", in.FilePath, doc.NumPage())
	if pageCount < doc.NumPage() {
		fmt.Fprintf(&b, " (showing first %d)", pageCount)
	}

	for page := 0; page < pageCount; page++ {
		img, err := doc.ImageDPI(page, pdfRenderDPI)
		if err != nil {
			return "", errors.Wrapf(err, "failed to render page %d", page+1)
		}

		resized := downscale(img, pdfMaxExtent)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return "", errors.Wrapf(err, "failed to encode page %d", page+1)
		}

		b.WriteString("\n")
		b.WriteString(entity.PageImageMarker(page+1, base64.StdEncoding.EncodeToString(buf.Bytes())))
	}

	return b.String(), nil
}

// downscale caps both extents at maxExtent with nearest-neighbor sampling.
func downscale(img image.Image, maxExtent int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxExtent && height <= maxExtent {
		return img
	}

	scale := math.Min(float64(maxExtent)/float64(width), float64(maxExtent)/float64(height))
	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	for y := 0; y < newHeight; y++ {
		for x := 0; x < newWidth; x++ {
			srcX := bounds.Min.X + int(float64(x)/scale)
			srcY := bounds.Min.Y + int(float64(y)/scale)
			resized.Set(x, y, img.At(srcX, srcY))
		}
	}
	return resized
}
