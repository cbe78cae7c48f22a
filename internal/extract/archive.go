package extract

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"PatentTriage/internal/domain"
)

// GzipFormat unwraps a gzip stream holding a single XML file.
type GzipFormat struct {
	inner Format
}

var _ Format = (*GzipFormat)(nil)

// NewGzipFormat wraps the XML strategy.
func NewGzipFormat(inner Format) *GzipFormat {
	return &GzipFormat{inner: inner}
}

func (f *GzipFormat) Kind() Kind { return KindGzip }

func (f *GzipFormat) Parse(ctx context.Context, name string, data []byte) ([]domain.Document, error) {
	plain, err := gunzip(data)
	if err != nil {
		return nil, err
	}
	return f.inner.Parse(ctx, strings.TrimSuffix(name, ".gz"), plain)
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	return plain, nil
}

// ZipFormat parses every .xml and .xml.gz entry of an archive independently.
type ZipFormat struct {
	xml    Format
	gzip   Format
	logger *slog.Logger
}

var _ Format = (*ZipFormat)(nil)

// NewZipFormat wires the entry strategies.
func NewZipFormat(xmlFormat, gzipFormat Format, logger *slog.Logger) *ZipFormat {
	return &ZipFormat{xml: xmlFormat, gzip: gzipFormat, logger: logger}
}

func (f *ZipFormat) Kind() Kind { return KindZip }

// Parse returns an error only when the archive directory is unreadable.
// A failing entry is logged and skipped.
func (f *ZipFormat) Parse(ctx context.Context, name string, data []byte) ([]domain.Document, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var docs []domain.Document
	for _, entry := range archive.File {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		if entry.FileInfo().IsDir() {
			continue
		}

		lower := strings.ToLower(entry.Name)
		var format Format
		switch {
		case strings.HasSuffix(lower, ".xml"):
			format = f.xml
		case strings.HasSuffix(lower, ".xml.gz"):
			format = f.gzip
		default:
			f.debug("skip zip entry", "archive", name, "entry", entry.Name)
			continue
		}

		payload, err := readEntry(entry)
		if err != nil {
			f.warn("skip unreadable zip entry", "archive", name, "entry", entry.Name, "error", err)
			continue
		}

		entryDocs, err := format.Parse(ctx, entry.Name, payload)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return docs, ctxErr
			}
			f.warn("skip malformed zip entry", "archive", name, "entry", entry.Name, "error", err)
			continue
		}
		f.debug("zip entry parsed", "archive", name, "entry", entry.Name, "documents", len(entryDocs))
		docs = append(docs, entryDocs...)
	}

	return docs, nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (f *ZipFormat) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

func (f *ZipFormat) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
