package tag

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // cover art decoding
	"io"
	"net/http"
	"time"

	"github.com/nfnt/resize"
)

// maxCoverEdge bounds embedded cover dimensions; platform artwork can be
// several thousand pixels wide, which bloats files and breaks some players.
const maxCoverEdge = 1400

// CoverFetcher downloads and normalizes cover art. Oversized images are
// downscaled and re-encoded as JPEG.
type CoverFetcher struct {
	client *http.Client
}

func NewCoverFetcher() *CoverFetcher {
	return &CoverFetcher{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch returns the cover image bytes ready for embedding.
func (c *CoverFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cover fetch: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cover is not a decodable image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxCoverEdge && bounds.Dy() <= maxCoverEdge && format == "jpeg" {
		return data, nil
	}

	if bounds.Dx() > maxCoverEdge || bounds.Dy() > maxCoverEdge {
		img = resize.Thumbnail(maxCoverEdge, maxCoverEdge, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("re-encoding cover: %w", err)
	}
	return buf.Bytes(), nil
}

// detectImageMIME sniffs the embedded image type from magic bytes.
func detectImageMIME(data []byte) string {
	if len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}) {
		return "image/png"
	}
	return "image/jpeg"
}
