package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/nfnt/resize"
	"github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"
)

// DefaultImageSize is the QR image edge in pixels when none is configured.
const DefaultImageSize = 256

// Pairing codes rotate quickly on the gateway side.
const qrLifetime = 2 * time.Minute

// ErrEmptyPayload is returned when there is nothing to render.
var ErrEmptyPayload = errors.New("empty QR code payload")

func looksEncoded(payload string) bool {
	return strings.HasPrefix(payload, "data:")
}

// EncodeQRImage turns payload into a size x size PNG. A data URL or a
// base64 image is decoded and resized; anything else is treated as the
// pairing code itself and rendered.
func EncodeQRImage(payload string, size int) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	if size <= 0 {
		size = DefaultImageSize
	}

	var raw []byte
	switch {
	case looksEncoded(payload):
		du, err := dataurl.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid QR data URL: %w", err)
		}
		if du.MediaType.Type != "image" {
			return nil, fmt.Errorf("QR data URL has media type %s", du.MediaType.ContentType())
		}
		raw = du.Data
	default:
		if b, err := base64.StdEncoding.DecodeString(payload); err == nil {
			if _, _, err := image.DecodeConfig(bytes.NewReader(b)); err == nil {
				raw = b
			}
		}
	}

	if raw == nil {
		out, err := qrcode.Encode(payload, qrcode.Medium, size)
		if err != nil {
			return nil, fmt.Errorf("failed to render QR code: %w", err)
		}
		return out, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode QR image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		img = resize.Resize(uint(size), uint(size), img, resize.NearestNeighbor)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR image: %w", err)
	}
	return buf.Bytes(), nil
}

// PrintQRCode writes code to w as a half-block terminal QR code.
func PrintQRCode(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
