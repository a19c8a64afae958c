package qr

import (
	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered PNG edge length in pixels.
const DefaultSize = 256

// PNG renders data as a QR code image with medium error recovery.
// Used for student badges (school id) and scanner session join codes.
func PNG(data string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(data, qrcode.Medium, size)
}
