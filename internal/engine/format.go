package engine

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// Supported input formats.
const (
	FormatCSV = "csv"
	FormatOFX = "ofx"
)

// DetectFormat picks the parser for a file. An explicit format wins, then the
// file extension, then the content itself.
func DetectFormat(explicit, filename string, data []byte) (string, error) {
	switch strings.ToLower(explicit) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatOFX, "qfx":
		return FormatOFX, nil
	case "":
	default:
		return "", fmt.Errorf("%w: %s", common.ErrUnsupportedFormat, explicit)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ofx", ".qfx":
		return FormatOFX, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToUpper(bytes.TrimSpace(head))
	if bytes.HasPrefix(head, []byte("OFXHEADER")) || bytes.Contains(head, []byte("<OFX>")) {
		return FormatOFX, nil
	}
	return FormatCSV, nil
}
