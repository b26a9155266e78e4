// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Supported Content-Encoding values for the catch-up transfer.
const (
	// EncodingZstd is preferred: best ratio for JSON record batches.
	EncodingZstd = "zstd"
	// EncodingLZ4 is the cheaper fallback (lz4 frame format).
	EncodingLZ4 = "lz4"
	// EncodingIdentity means no compression.
	EncodingIdentity = ""
)

// AcceptEncodings is the Accept-Encoding value clients send,
// in preference order.
const AcceptEncodings = "zstd, lz4"

// NegotiateEncoding picks the response encoding from an
// Accept-Encoding header. zstd wins over lz4 regardless of the order
// the client listed them; anything else yields identity. Quality
// values are ignored except that q=0 disables an encoding.
func NegotiateEncoding(acceptEncoding string) string {
	zstdOK, lz4OK := false, false
	for _, part := range strings.Split(acceptEncoding, ",") {
		token, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.Contains(params, "q=0") && !strings.Contains(params, "q=0.") {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(token)) {
		case EncodingZstd:
			zstdOK = true
		case EncodingLZ4:
			lz4OK = true
		}
	}
	switch {
	case zstdOK:
		return EncodingZstd
	case lz4OK:
		return EncodingLZ4
	default:
		return EncodingIdentity
	}
}

// NewEncoder wraps w with a compressing writer for the given encoding.
// The caller must Close the result to flush the final frame; closing
// does not close w.
func NewEncoder(w io.Writer, encoding string) (io.WriteCloser, error) {
	switch encoding {
	case EncodingZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("httpx: zstd encoder: %w", err)
		}
		return encoder, nil
	case EncodingLZ4:
		return lz4.NewWriter(w), nil
	case EncodingIdentity:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("httpx: unsupported content encoding %q", encoding)
	}
}

// NewDecoder wraps r with a decompressing reader for the given
// encoding. The caller must Close the result; closing does not close r.
func NewDecoder(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch encoding {
	case EncodingZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("httpx: zstd decoder: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case EncodingLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case EncodingIdentity:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("httpx: unsupported content encoding %q", encoding)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
