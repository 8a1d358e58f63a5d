package extract

import (
	"bytes"
	"fmt"
	"os"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// extractTXT decodes a plain-text file to UTF-8. A byte-order mark wins;
// otherwise statistical detection picks the charset, and undecodable bytes
// are replaced rather than failing the book.
func (e *Extractor) extractTXT(filePath string) (string, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("text file is empty")
	}
	return decodeText(raw)
}

func decodeText(raw []byte) (string, error) {
	if enc, rest := sniffBOM(raw); enc != nil {
		decoded, _, err := transform.Bytes(enc.NewDecoder(), rest)
		if err != nil {
			return "", fmt.Errorf("decode BOM-marked text: %w", err)
		}
		return string(decoded), nil
	}

	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(raw)
	if err != nil || result == nil {
		// Undetectable bytes: treat as UTF-8 with replacement.
		return string(bytes.ToValidUTF8(raw, []byte("�"))), nil
	}

	enc, err := ianaindex.IANA.Encoding(result.Charset)
	if err != nil || enc == nil {
		return string(bytes.ToValidUTF8(raw, []byte("�"))), nil
	}

	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return string(bytes.ToValidUTF8(raw, []byte("�"))), nil
	}
	return string(decoded), nil
}

// sniffBOM returns the encoding indicated by a byte-order mark, with the
// mark stripped, or nil when none is present.
func sniffBOM(raw []byte) (encoding.Encoding, []byte) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return unicode.UTF8, raw[3:]
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), raw[2:]
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), raw[2:]
	}
	return nil, raw
}
