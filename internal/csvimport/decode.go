package csvimport

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const utf8BOM = "\uFEFF"

// Decode converts a raw export into UTF-8 text. Input that is not valid UTF-8
// is treated as Shift_JIS, the encoding most Japanese banks export with.
func Decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte(utf8BOM))
	if utf8.Valid(data) {
		return string(data), nil
	}

	out, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("failed to decode Shift_JIS input: %w", err)
	}
	return string(out), nil
}

// normalize folds full-width and half-width forms together and trims spaces.
func normalize(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}
