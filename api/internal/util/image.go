package util

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrNotImage = errors.New("not an image")

// SniffImageMIME detects the content type from magic bytes.
func SniffImageMIME(b []byte) string {
	mt := mimetype.Detect(b)
	ct := mt.String()
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// IsImageMIME reports whether mime names an image format providers accept.
func IsImageMIME(mime string) bool {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif", "image/heic", "image/bmp":
		return true
	}
	return false
}

// DecodeBase64MaybeDataURL decodes base64, accepting a data: URI prefix. The
// MIME from the prefix is returned as a hint.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, hintMIME, nil
	} else if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hintMIME, nil
	} else {
		return nil, "", err
	}
}

// PickMIME prefers the sniffed type when it is an image, then the declared
// type, then the data: URI hint. It returns ErrNotImage if none is an image.
func PickMIME(declared, hint string, data []byte) (string, error) {
	if len(data) > 0 {
		if s := SniffImageMIME(data); IsImageMIME(s) {
			return s, nil
		}
	}
	for _, m := range []string{declared, hint} {
		if IsImageMIME(m) {
			return strings.ToLower(strings.TrimSpace(m)), nil
		}
	}
	return "", ErrNotImage
}
