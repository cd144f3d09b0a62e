// Package encoder turns uploaded image files into the base64 payload plus
// media type that the remote model expects.
package encoder

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const fallbackMimeType = "image/jpeg"

type Image struct {
	Data     string
	MimeType string
}

type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode image: %s: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

var ErrEmptyImage = errors.New("image is empty")

// Encode reads r to the end. mimeType is the type reported by the uploader and
// may be empty, in which case it is sniffed from the content.
func Encode(r io.Reader, mimeType string) (Image, error) {
	if r == nil {
		return Image{}, &EncodingError{Op: "read", Err: errors.New("nil reader")}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return Image{}, &EncodingError{Op: "read", Err: err}
	}
	return EncodeBytes(raw, mimeType)
}

func EncodeBytes(raw []byte, mimeType string) (Image, error) {
	if len(raw) == 0 {
		return Image{}, &EncodingError{Op: "read", Err: ErrEmptyImage}
	}

	return Image{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MimeType: DetectMimeType(mimeType, raw),
	}, nil
}

func EncodeFile(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, &EncodingError{Op: "open " + filepath.Base(path), Err: err}
	}
	defer f.Close()

	return Encode(f, mime.TypeByExtension(strings.ToLower(filepath.Ext(path))))
}

var dataURLRegex = regexp.MustCompile(`^data:([^;,]+)(;[^,]*)?,`)

// FromDataURL accepts either a data URL or a bare base64 payload.
func FromDataURL(value string, fallbackMime string) (Image, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Image{}, &EncodingError{Op: "data url", Err: ErrEmptyImage}
	}

	mimeType := strings.TrimSpace(fallbackMime)
	if matches := dataURLRegex.FindStringSubmatch(value); len(matches) >= 2 {
		mimeType = matches[1]
	}
	if mimeType == "" {
		mimeType = fallbackMimeType
	}

	data := StripDataURLPrefix(value)
	if data == "" {
		return Image{}, &EncodingError{Op: "data url", Err: ErrEmptyImage}
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return Image{}, &EncodingError{Op: "data url", Err: err}
	}

	return Image{Data: data, MimeType: normalizeMimeType(mimeType)}, nil
}

func StripDataURLPrefix(value string) string {
	if !strings.HasPrefix(value, "data:") {
		return value
	}
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		return value[idx+1:]
	}
	return value
}

func (img Image) Bytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return nil, &EncodingError{Op: "decode", Err: err}
	}
	return raw, nil
}

func (img Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data)
}

func (img Image) IsZero() bool {
	return img.Data == ""
}

// Extension returns the preferred file extension for the image's media type,
// including the leading dot.
func (img Image) Extension() string {
	switch normalizeMimeType(img.MimeType) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if exts, _ := mime.ExtensionsByType(img.MimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}

// DetectMimeType prefers the declared type and sniffs the content when the
// declaration is missing or generic.
func DetectMimeType(declared string, raw []byte) string {
	mimeType := normalizeMimeType(declared)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMimeType(http.DetectContentType(raw))
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = fallbackMimeType
	}
	return mimeType
}

func IsImageMimeType(value string) bool {
	return strings.HasPrefix(normalizeMimeType(value), "image/")
}

func normalizeMimeType(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, ";") {
		value = strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
	}
	return strings.ToLower(value)
}
