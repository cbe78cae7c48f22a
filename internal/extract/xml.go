package extract

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"

	"PatentTriage/internal/domain"
)

var errMultipleRoots = errors.New("xml: more than one root element")

var declaration = regexp.MustCompile(`<\?xml[\s?]`)

// documentTags are the per-patent elements of USPTO bulk files.
var documentTags = map[string]domain.Source{
	"us-patent-grant":                domain.SourceGrant,
	"patent-grant":                   domain.SourceGrant,
	"us-patent-application":          domain.SourcePregrant,
	"patent-application-publication": domain.SourcePregrant,
}

// XMLFormat streams USPTO grant and application documents.
type XMLFormat struct {
	logger *slog.Logger
}

var _ Format = (*XMLFormat)(nil)

// NewXMLFormat builds the XML strategy.
func NewXMLFormat(logger *slog.Logger) *XMLFormat {
	return &XMLFormat{logger: logger}
}

func (f *XMLFormat) Kind() Kind { return KindXML }

// Parse decodes a well-formed file in one pass. Weekly bulk files are many
// XML documents glued together; those are split on declarations and each
// segment decoded on its own.
func (f *XMLFormat) Parse(ctx context.Context, name string, data []byte) ([]domain.Document, error) {
	docs, err := decodeDocuments(ctx, data)
	if err == nil {
		return docs, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	segments := splitDeclarations(data)
	if len(segments) <= 1 {
		f.warn("xml decode stopped early", "file", name, "decoded", len(docs), "error", err)
		return docs, nil
	}

	f.debug("split concatenated xml", "file", name, "segments", len(segments), "cause", err)

	var out []domain.Document
	for i, segment := range segments {
		segDocs, segErr := decodeDocuments(ctx, segment)
		if segErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			f.warn("drop malformed xml segment", "file", name, "segment", i, "error", segErr)
			continue
		}
		out = append(out, segDocs...)
	}
	return out, nil
}

// splitDeclarations cuts data at every <?xml declaration.
func splitDeclarations(data []byte) [][]byte {
	locs := declaration.FindAllIndex(data, -1)
	segments := make([][]byte, 0, len(locs))
	for i, loc := range locs {
		end := len(data)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segments = append(segments, data[loc[0]:end])
	}
	return segments
}

func newDecoder(data []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// decodeDocuments walks a single-root XML payload. On failure it returns the
// documents decoded so far together with the error.
func decodeDocuments(ctx context.Context, data []byte) ([]domain.Document, error) {
	dec := newDecoder(data)

	var (
		docs  []domain.Document
		depth int
		roots int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return docs, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return docs, errMultipleRoots
				}
			}
			if source, ok := documentTags[t.Name.Local]; ok {
				if err := ctx.Err(); err != nil {
					return docs, err
				}
				doc, err := decodeDocument(dec, source)
				if err != nil {
					return docs, err
				}
				docs = append(docs, doc)
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
}

type documentID struct {
	country, number, kind, date strings.Builder
}

func (d *documentID) field(name string) *strings.Builder {
	switch name {
	case "country":
		return &d.country
	case "doc-number":
		return &d.number
	case "kind":
		return &d.kind
	case "date":
		return &d.date
	}
	return nil
}

func (d *documentID) externalID() string {
	country := strings.TrimSpace(d.country.String())
	number := strings.TrimSpace(d.number.String())
	kind := strings.TrimSpace(d.kind.String())
	if country != "" && number != "" && kind != "" {
		return country + number + kind
	}
	return number
}

// decodeDocument consumes tokens up to and including the end element of the
// document whose start element was just read.
func decodeDocument(dec *xml.Decoder, source domain.Source) (domain.Document, error) {
	var (
		stack []string

		ref     documentID
		inRef   bool
		refDone bool

		title     strings.Builder
		inTitle   bool
		titleDone bool

		inAbstract   bool
		abstractDone bool
		paragraph    *strings.Builder
		paragraphs   []string
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return domain.Document{}, io.ErrUnexpectedEOF
		}
		if err != nil {
			return domain.Document{}, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			parent := top(stack)
			stack = append(stack, name)
			switch {
			case name == "document-id" && parent == "publication-reference" && !refDone:
				inRef = true
			case name == "invention-title" && !titleDone:
				inTitle = true
			case name == "abstract" && !abstractDone:
				inAbstract = true
			case name == "p" && inAbstract && parent == "abstract":
				paragraph = &strings.Builder{}
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return domain.Document{
					ExternalID:      ref.externalID(),
					Title:           collapseSpaces(title.String()),
					Abstract:        strings.Join(paragraphs, " "),
					PublicationDate: strings.TrimSpace(ref.date.String()),
					Source:          source,
				}, nil
			}
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			switch {
			case name == "document-id" && inRef:
				inRef, refDone = false, true
			case name == "invention-title" && inTitle:
				inTitle, titleDone = false, true
			case name == "abstract" && inAbstract:
				inAbstract, abstractDone = false, true
			case name == "p" && paragraph != nil && top(stack) == "abstract":
				if text := collapseSpaces(paragraph.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				paragraph = nil
			}

		case xml.CharData:
			if inRef && len(stack) >= 2 && stack[len(stack)-2] == "document-id" {
				if b := ref.field(top(stack)); b != nil {
					b.Write(t)
				}
			}
			if inTitle {
				title.Write(t)
			}
			if paragraph != nil {
				paragraph.Write(t)
			}
		}
	}
}

func top(stack []string) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}

func (f *XMLFormat) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

func (f *XMLFormat) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
