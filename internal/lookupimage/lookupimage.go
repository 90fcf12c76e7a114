// Package lookupimage renders the QR code printed on bottle labels. The code
// points at the public batch page.
package lookupimage

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// Generator turns a URL into an image payload.
type Generator interface {
	Generate(url string) ([]byte, error)
}

// QRGenerator renders PNG QR codes.
type QRGenerator struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewQRGenerator creates a generator with medium error correction.
func NewQRGenerator(size int) *QRGenerator {
	if size <= 0 {
		size = DefaultSize
	}
	return &QRGenerator{Size: size, Level: qrcode.Medium}
}

// Generate encodes url as a PNG QR code.
func (g *QRGenerator) Generate(url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty url")
	}
	png, err := qrcode.Encode(url, g.Level, g.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}
