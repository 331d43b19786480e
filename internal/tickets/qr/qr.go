package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

var ErrEmptyCode = errors.New("empty ticket code")

// PNG renders a transport string as a QR code image.
func PNG(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}
