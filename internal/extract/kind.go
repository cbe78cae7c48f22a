package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"PatentTriage/internal/apperr"
)

// Kind identifies an input container or record format.
type Kind string

const (
	KindCSV  Kind = "csv"
	KindXML  Kind = "xml"
	KindGzip Kind = "gzip"
	KindZip  Kind = "zip"
)

var extensionKinds = map[string]Kind{
	".csv": KindCSV,
	".xml": KindXML,
	".gz":  KindGzip,
	".zip": KindZip,
}

// KindFromName maps a file name onto a Kind by extension. A name without an
// extension yields ok=false so the caller can sniff the content instead.
func KindFromName(name string) (kind Kind, ok bool, err error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if ext == "" {
		return "", false, nil
	}
	kind, known := extensionKinds[ext]
	if !known {
		return "", false, fmt.Errorf("%s: %w", ext, apperr.ErrUnsupportedFormat)
	}
	return kind, true, nil
}

// Sniff guesses the Kind of a payload from its leading bytes.
func Sniff(head []byte) Kind {
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return KindZip
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return KindGzip
	}

	trimmed := bytes.TrimLeft(bytes.TrimPrefix(head, utf8BOM), " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return KindXML
	}
	return KindCSV
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}
