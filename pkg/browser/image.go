package browser

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// FitImage downscales a PNG so neither side exceeds maxSide, keeping the
// aspect ratio. Images already within bounds are returned unchanged.
func FitImage(data []byte, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		return data, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return data, nil
	}

	img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}
