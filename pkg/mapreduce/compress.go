// =============================================================================
// pkg/mapreduce/compress.go - Transparent Log Decompression
// =============================================================================
//
// Per-host logs collected from remote machines are usually archived before
// download. Readers in this package accept plain, gzip (.gz) and zstd (.zst)
// files and decompress on the fly, so no out-of-process extraction step is
// needed.
//
// =============================================================================

package mapreduce

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// compressedExts lists the archive suffixes OpenLogReader understands.
var compressedExts = []string{".gz", ".zst"}

// StripArchiveExt returns the file name without a trailing archive suffix,
// e.g. "blocks.log.gz" -> "blocks.log".
func StripArchiveExt(name string) string {
	for _, ext := range compressedExts {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// OpenLogReader opens a log file for streaming reads, transparently
// decompressing gzip and zstd archives by file extension.
func OpenLogReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", path)
	}

	switch filepath.Ext(path) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "failed to open gzip stream %s", path)
		}
		return &decompressReader{r: gz, closers: []io.Closer{gz, f}}, nil

	case ".zst":
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "failed to open zstd stream %s", path)
		}
		return &decompressReader{r: dec, closers: []io.Closer{closerFunc(func() error {
			dec.Close()
			return nil
		}), f}}, nil

	default:
		return f, nil
	}
}

// decompressReader bundles a decompressing reader with the underlying file
// so that Close releases both.
type decompressReader struct {
	r       io.Reader
	closers []io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

func (d *decompressReader) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
