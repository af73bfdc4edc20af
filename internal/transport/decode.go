package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned for a Content-Encoding Decode cannot undo.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// Decode undoes the Content-Encoding values of a response body, last applied
// first. It reports whether any decoding took place. "deflate" accepts both
// zlib-wrapped and raw streams. Each decoded layer is capped at limit bytes;
// going past it yields ErrBodyTooLarge. A limit <= 0 disables the cap.
func Decode(body []byte, encodings []string, limit int64) ([]byte, bool, error) {
	var codings []string
	for _, v := range encodings {
		for _, c := range strings.Split(v, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && c != "identity" {
				codings = append(codings, c)
			}
		}
	}
	if len(codings) == 0 || len(body) == 0 {
		return body, false, nil
	}

	out := body
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		out, err = decodeOne(out, codings[i], limit)
		if err != nil {
			return body, false, err
		}
	}
	return out, true, nil
}

func decodeOne(body []byte, coding string, limit int64) ([]byte, error) {
	switch coding {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		return readAll(r, "gzip", limit)
	case "deflate":
		if r, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer r.Close()
			return readAll(r, "deflate", limit)
		}
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return readAll(r, "deflate", limit)
	case "br":
		return readAll(brotli.NewReader(bytes.NewReader(body)), "br", limit)
	case "zstd":
		d, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer d.Close()
		return readAll(d, "zstd", limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, coding)
	}
}

func readAll(r io.Reader, coding string, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", coding, err)
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: %s decodes past %d bytes", ErrBodyTooLarge, coding, limit)
	}
	return b, nil
}
