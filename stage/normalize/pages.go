package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/tiff"
)

// acceptedTypes are the container formats the normalizer decodes.
// Anything else quarantines as unsupported.
var acceptedTypes = map[string]bool{
	"image/tiff": true,
	"image/gif":  true,
	"image/png":  true,
	"image/jpeg": true,
}

// Accepted reports whether the normalizer can decode contentType.
func Accepted(contentType string) bool {
	return acceptedTypes[contentType]
}

// decodePages splits a container image into its pages, in document
// order. TIFF and GIF may carry several pages; PNG and JPEG carry one.
// Any decode failure means the object is malformed, not that retrying
// would help.
func decodePages(data []byte, contentType string) ([]image.Image, error) {
	switch contentType {
	case "image/tiff":
		return decodeTIFF(data)
	case "image/gif":
		return decodeGIF(data)
	case "image/png":
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding png: %w", err)
		}
		return []image.Image{img}, nil
	case "image/jpeg":
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding jpeg: %w", err)
		}
		return []image.Image{img}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
}

func decodeTIFF(data []byte) ([]image.Image, error) {
	frames, frameErrs, err := tiff.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding tiff: %w", err)
	}
	var pages []image.Image
	for i := range frames {
		for j := range frames[i] {
			if e := frameErrs[i][j]; e != nil {
				return nil, fmt.Errorf("decoding tiff page %d/%d: %w", i, j, e)
			}
			pages = append(pages, frames[i][j])
		}
	}
	return pages, nil
}

func decodeGIF(data []byte) ([]image.Image, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding gif: %w", err)
	}
	pages := make([]image.Image, 0, len(g.Image))
	for _, frame := range g.Image {
		pages = append(pages, frame)
	}
	return pages, nil
}

// renderPNG renders one page to the canonical page format. Encoding is
// deterministic for a given image, which keeps replayed puts byte-equal.
func renderPNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
