package pipz

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressAlgorithm selects the compression format.
type CompressAlgorithm int

const (
	// CompressGzip uses gzip, wired to klauspost/compress/gzip rather
	// than the stdlib implementation.
	CompressGzip CompressAlgorithm = iota
	// CompressZlib uses the stdlib compress/zlib implementation; the
	// pack carries no third-party zlib alternative.
	CompressZlib
)

// CompressLevel selects the compression/speed tradeoff.
type CompressLevel int

const (
	// CompressFast favors speed over ratio.
	CompressFast CompressLevel = iota
	// CompressBalanced is a middle-ground default.
	CompressBalanced
	// CompressBest favors ratio over speed.
	CompressBest
)

func (l CompressLevel) gzipLevel() int {
	switch l {
	case CompressFast:
		return gzip.BestSpeed
	case CompressBest:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func (l CompressLevel) zlibLevel() int {
	switch l {
	case CompressFast:
		return zlib.BestSpeed
	case CompressBest:
		return zlib.BestCompression
	default:
		return zlib.DefaultCompression
	}
}

func compressBytes(algo CompressAlgorithm, level CompressLevel, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch algo {
	case CompressZlib:
		w, err := zlib.NewWriterLevel(&buf, level.zlibLevel())
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			w.Close() //nolint:errcheck
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		w, err := gzip.NewWriterLevel(&buf, level.gzipLevel())
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			w.Close() //nolint:errcheck
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decompressBytes(algo CompressAlgorithm, payload []byte) ([]byte, error) {
	var r io.ReadCloser
	var err error
	switch algo {
	case CompressZlib:
		r, err = zlib.NewReader(bytes.NewReader(payload))
	default:
		r, err = gzip.NewReader(bytes.NewReader(payload))
	}
	if err != nil {
		return nil, err
	}
	defer r.Close() //nolint:errcheck
	return io.ReadAll(r)
}

// CompressBytes compresses a []byte payload produced by the wrapped
// processor whenever its size exceeds threshold. Below threshold, the
// payload passes through unchanged. Wired to
// `github.com/klauspost/compress/gzip` for the gzip path (a drop-in for
// the stdlib package, same API) and stdlib `compress/zlib` for the
// zlib path, since the pack carries no third-party zlib alternative.
type CompressBytes struct {
	name      Name
	processor Chainable[[]byte]
	threshold int
	algo      CompressAlgorithm
	level     CompressLevel
}

// NewCompressBytes creates a CompressBytes decorator compressing
// payloads over threshold bytes using gzip at the balanced level by
// default.
func NewCompressBytes(name Name, processor Chainable[[]byte], threshold int) *CompressBytes {
	return &CompressBytes{name: name, processor: processor, threshold: threshold, algo: CompressGzip, level: CompressBalanced}
}

// WithAlgorithm sets the compression algorithm.
func (c *CompressBytes) WithAlgorithm(algo CompressAlgorithm) *CompressBytes {
	c.algo = algo
	return c
}

// WithLevel sets the compression level.
func (c *CompressBytes) WithLevel(level CompressLevel) *CompressBytes {
	c.level = level
	return c
}

// Process implements the Chainable interface.
func (c *CompressBytes) Process(ctx context.Context, data []byte) ([]byte, error) {
	result, err := c.processor.Process(ctx, data)
	if err != nil {
		return result, err
	}
	if len(result) <= c.threshold {
		return result, nil
	}
	compressed, cErr := compressBytes(c.algo, c.level, result)
	if cErr != nil {
		return result, &Error[[]byte]{Path: []Name{c.name}, InputData: data, Err: cErr}
	}
	return compressed, nil
}

// Name returns the name of this connector.
func (c *CompressBytes) Name() Name { return c.name }

// Close releases the wrapped processor.
func (c *CompressBytes) Close() error { return c.processor.Close() }

// DecompressBytes reverses CompressBytes. If the input cannot be
// decompressed (it was never compressed, or is corrupt), it is returned
// unchanged rather than failing the call, per the contract's graceful
// passthrough requirement.
type DecompressBytes struct {
	name Name
	algo CompressAlgorithm
}

// NewDecompressBytes creates a DecompressBytes decorator.
func NewDecompressBytes(name Name, algo CompressAlgorithm) *DecompressBytes {
	return &DecompressBytes{name: name, algo: algo}
}

// Process implements the Chainable interface.
func (d *DecompressBytes) Process(_ context.Context, data []byte) ([]byte, error) {
	decompressed, err := decompressBytes(d.algo, data)
	if err != nil {
		return data, nil
	}
	return decompressed, nil
}

// Name returns the name of this connector.
func (d *DecompressBytes) Name() Name { return d.name }

// Close is a no-op; DecompressBytes holds no resources.
func (d *DecompressBytes) Close() error { return nil }

// CompressText is the textual counterpart of CompressBytes: payloads
// over threshold are compressed and base64-encoded so the result
// remains a valid string; below threshold, the text passes through
// unchanged.
type CompressText struct {
	name      Name
	processor Chainable[string]
	threshold int
	algo      CompressAlgorithm
	level     CompressLevel
}

// NewCompressText creates a CompressText decorator compressing payloads
// over threshold bytes using gzip at the balanced level by default.
func NewCompressText(name Name, processor Chainable[string], threshold int) *CompressText {
	return &CompressText{name: name, processor: processor, threshold: threshold, algo: CompressGzip, level: CompressBalanced}
}

// WithAlgorithm sets the compression algorithm.
func (c *CompressText) WithAlgorithm(algo CompressAlgorithm) *CompressText {
	c.algo = algo
	return c
}

// WithLevel sets the compression level.
func (c *CompressText) WithLevel(level CompressLevel) *CompressText {
	c.level = level
	return c
}

// Process implements the Chainable interface.
func (c *CompressText) Process(ctx context.Context, data string) (string, error) {
	result, err := c.processor.Process(ctx, data)
	if err != nil {
		return result, err
	}
	if len(result) <= c.threshold {
		return result, nil
	}
	compressed, cErr := compressBytes(c.algo, c.level, []byte(result))
	if cErr != nil {
		return result, &Error[string]{Path: []Name{c.name}, InputData: data, Err: cErr}
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// Name returns the name of this connector.
func (c *CompressText) Name() Name { return c.name }

// Close releases the wrapped processor.
func (c *CompressText) Close() error { return c.processor.Close() }

// DecompressText reverses CompressText. If the input is not valid
// base64 or fails to decompress, it is returned unchanged rather than
// failing the call.
type DecompressText struct {
	name Name
	algo CompressAlgorithm
}

// NewDecompressText creates a DecompressText decorator.
func NewDecompressText(name Name, algo CompressAlgorithm) *DecompressText {
	return &DecompressText{name: name, algo: algo}
}

// Process implements the Chainable interface.
func (d *DecompressText) Process(_ context.Context, data string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return data, nil
	}
	decompressed, err := decompressBytes(d.algo, raw)
	if err != nil {
		return data, nil
	}
	return string(decompressed), nil
}

// Name returns the name of this connector.
func (d *DecompressText) Name() Name { return d.name }

// Close is a no-op; DecompressText holds no resources.
func (d *DecompressText) Close() error { return nil }
