package provision

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// transcoder converts directory values from the configured charset to UTF-8.
type transcoder struct {
	decoder *encoding.Decoder
}

func newTranscoder(charset string) (*transcoder, error) {
	charset = strings.TrimSpace(charset)
	if charset == "" {
		return &transcoder{}, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported directory encoding %q: %w", charset, err)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return &transcoder{}, nil
	}
	return &transcoder{decoder: enc.NewDecoder()}, nil
}

func (t *transcoder) String(s string) string {
	if t.decoder == nil || s == "" {
		return s
	}
	out, err := t.decoder.String(s)
	if err != nil {
		return s
	}
	return out
}
