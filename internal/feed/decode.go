// Package feed decodes and parses the upstream per-region listing feeds:
// legacy single-byte encoded, semicolon-delimited text with a header row
// buried under a variable amount of preamble.
package feed

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DecodeError means no candidate encoding produced text containing the
// expected domain markers. Sample holds the first bytes of the payload for
// diagnostics.
type DecodeError struct {
	Sample []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("feed: no encoding produced a readable feed (first %d bytes: % x)", len(e.Sample), e.Sample)
}

const decodeSampleSize = 100

// codec is one decoding candidate. decode returns an error when the bytes
// cannot be represented in the encoding; single-byte codecs never fail and
// rely on marker validation instead.
type codec struct {
	name   string
	decode func([]byte) (string, error)
}

func charmapCodec(name string, cm *charmap.Charmap) codec {
	return codec{name: name, decode: func(raw []byte) (string, error) {
		out, err := cm.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}}
}

func utf16Codec(e encoding.Encoding) func([]byte) (string, error) {
	return func(raw []byte) (string, error) {
		out, err := e.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// candidates are tried in order. The upstream source is legacy single-byte
// encoded, so those come first; UTF variants cover occasional re-encodes.
var candidates = []codec{
	charmapCodec("latin-1", charmap.ISO8859_1),
	charmapCodec("windows-1252", charmap.Windows1252),
	{name: "utf-8", decode: func(raw []byte) (string, error) {
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("invalid utf-8")
		}
		return string(raw), nil
	}},
	{name: "utf-16", decode: utf16Codec(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM))},
	{name: "ascii", decode: func(raw []byte) (string, error) {
		for _, b := range raw {
			if b >= 0x80 {
				return "", fmt.Errorf("non-ascii byte 0x%02x", b)
			}
		}
		return string(raw), nil
	}},
}

// Decode converts raw feed bytes into text. Each candidate encoding is
// tried in order; a candidate wins when it both decodes cleanly and the
// result contains the feed's domain markers. Returns the text and the name
// of the winning encoding.
func Decode(raw []byte) (string, string, error) {
	for _, c := range candidates {
		text, err := c.decode(raw)
		if err != nil {
			continue
		}
		if !looksLikeFeed(text) {
			continue
		}
		zap.L().Debug("feed decoded", zap.String("encoding", c.name), zap.Int("bytes", len(raw)))
		return text, c.name, nil
	}

	sample := raw
	if len(sample) > decodeSampleSize {
		sample = sample[:decodeSampleSize]
	}
	return "", "", &DecodeError{Sample: sample}
}

// looksLikeFeed checks the decoded text for header tokens that every valid
// feed carries: some spelling of "imovel" plus at least one location column.
func looksLikeFeed(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "imovel") && !strings.Contains(lower, "imóvel") {
		return false
	}
	return strings.Contains(text, "UF") ||
		strings.Contains(text, "Cidade") ||
		strings.Contains(text, "Bairro")
}
