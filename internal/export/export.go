// Package export reads gzip-compressed NDJSON exports of platform orders and
// discounts, one JSON object per line.
package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
)

// maxLineSize bounds a single export line. Orders with many line items can
// be large.
const maxLineSize = 16 << 20

// Kind is the record type of an export file.
type Kind string

const (
	KindOrders    Kind = "orders"
	KindDiscounts Kind = "discounts"
)

// KindOf derives the record type from the file name: orders*.ndjson.gz or
// discounts*.ndjson.gz.
func KindOf(path string) (Kind, bool) {
	name := strings.ToLower(filepath.Base(path))
	if !strings.HasSuffix(name, ".ndjson.gz") {
		return "", false
	}
	switch {
	case strings.HasPrefix(name, string(KindOrders)):
		return KindOrders, true
	case strings.HasPrefix(name, string(KindDiscounts)):
		return KindDiscounts, true
	default:
		return "", false
	}
}

// LineError reports an undecodable line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type gzipFile struct {
	*pgzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return gzErr
}

// Open opens a gzip-compressed export file. Closing the result closes the
// file too.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	return &gzipFile{Reader: gz, f: f}, nil
}

// readBatches decodes r line by line and hands batches of at most size
// records to fn. Blank lines are skipped. It returns the number of records
// delivered.
func readBatches[T any](
	ctx context.Context,
	r io.Reader,
	size int,
	decode func(line []byte) (T, error),
	fn func([]T) error,
) (int, error) {
	if size <= 0 {
		size = 500
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	var (
		batch = make([]T, 0, size)
		total int
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		total += len(batch)
		batch = make([]T, 0, size)
		return nil
	}

	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return total, err
		}
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		v, err := decode(raw)
		if err != nil {
			return total, &LineError{Line: line, Err: err}
		}
		batch = append(batch, v)
		if len(batch) == size {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, errors.Wrapf(err, "scan after line %d", line)
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
