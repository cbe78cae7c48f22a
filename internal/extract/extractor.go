package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"

	"PatentTriage/internal/domain"
)

// Error reports a container-level failure: the input could not be read or
// unpacked at all.
type Error struct {
	Name string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Name, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor turns uploaded files into validated Documents using the
// registered format strategies.
type Extractor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExtractor wires a format registry.
func NewExtractor(reg *Registry, logger *slog.Logger) *Extractor {
	return &Extractor{registry: reg, logger: logger}
}

// NewDefaultRegistry registers the CSV, XML, gzip and zip strategies.
func NewDefaultRegistry(columns Columns, logger *slog.Logger) *Registry {
	xmlFormat := NewXMLFormat(logger)
	gzipFormat := NewGzipFormat(xmlFormat)

	reg := NewRegistry()
	reg.Register(NewCSVFormat(columns, logger))
	reg.Register(xmlFormat)
	reg.Register(gzipFormat)
	reg.Register(NewZipFormat(xmlFormat, gzipFormat, logger))
	return reg
}

// CheckName rejects unsupported extensions without reading any content.
func CheckName(name string) error {
	_, _, err := KindFromName(name)
	return err
}

// Extract reads r fully and yields every valid Document it holds. The
// returned sequence is finite and can be ranged over once.
func (e *Extractor) Extract(ctx context.Context, name string, r io.Reader) (iter.Seq[domain.Document], error) {
	if e.registry == nil {
		return nil, fmt.Errorf("format registry is not configured")
	}

	kind, known, err := KindFromName(name)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Name: name, Kind: kind, Err: fmt.Errorf("read input: %w", err)}
	}
	if !known {
		kind = Sniff(data)
		e.debug("sniffed input kind", "file", name, "kind", kind)
	}

	format, err := e.registry.Resolve(kind)
	if err != nil {
		return nil, err
	}

	raw, err := format.Parse(ctx, name, data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{Name: name, Kind: kind, Err: err}
	}

	docs := make([]domain.Document, 0, len(raw))
	for _, doc := range raw {
		doc = normalize(doc)
		if !doc.Valid() {
			e.debug("drop invalid document", "file", name, "external_id", doc.ExternalID)
			continue
		}
		docs = append(docs, doc)
	}

	e.debug("extraction done", "file", name, "kind", kind, "parsed", len(raw), "valid", len(docs))
	return singleUse(docs), nil
}

func normalize(doc domain.Document) domain.Document {
	doc.ExternalID = strings.TrimSpace(doc.ExternalID)
	doc.Title = strings.TrimSpace(doc.Title)
	doc.Abstract = strings.TrimSpace(doc.Abstract)
	doc.PublicationDate = strings.TrimSpace(doc.PublicationDate)
	if doc.Source == "" {
		doc.Source = domain.SourceUnknown
	}
	return doc
}

func singleUse(docs []domain.Document) iter.Seq[domain.Document] {
	var used atomic.Bool
	return func(yield func(domain.Document) bool) {
		if used.Swap(true) {
			return
		}
		for _, doc := range docs {
			if !yield(doc) {
				return
			}
		}
	}
}

func (e *Extractor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
