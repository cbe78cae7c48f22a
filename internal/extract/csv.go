package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"PatentTriage/internal/domain"
)

// Columns lists accepted header aliases per field, in priority order.
type Columns struct {
	ID       []string `yaml:"id"`
	Title    []string `yaml:"title"`
	Abstract []string `yaml:"abstract"`
	Date     []string `yaml:"date"`
	Source   []string `yaml:"source"`
}

// DefaultColumns covers USPTO search exports and hand-made spreadsheets.
func DefaultColumns() Columns {
	return Columns{
		ID:       []string{"patent_id", "patentid", "document_id", "doc_number", "publication_number"},
		Title:    []string{"title", "invention_title"},
		Abstract: []string{"abstract", "notes", "summary"},
		Date:     []string{"pub_date", "pubdate", "date_published", "date", "filing_date"},
		Source:   []string{"source"},
	}
}

func (c Columns) withDefaults() Columns {
	def := DefaultColumns()
	if len(c.ID) == 0 {
		c.ID = def.ID
	}
	if len(c.Title) == 0 {
		c.Title = def.Title
	}
	if len(c.Abstract) == 0 {
		c.Abstract = def.Abstract
	}
	if len(c.Date) == 0 {
		c.Date = def.Date
	}
	if len(c.Source) == 0 {
		c.Source = def.Source
	}
	return c
}

// CSVFormat reads delimited exports with a header row.
type CSVFormat struct {
	columns Columns
	logger  *slog.Logger
}

var _ Format = (*CSVFormat)(nil)

// NewCSVFormat builds a CSV strategy; empty alias lists fall back to defaults.
func NewCSVFormat(columns Columns, logger *slog.Logger) *CSVFormat {
	return &CSVFormat{columns: columns.withDefaults(), logger: logger}
}

func (f *CSVFormat) Kind() Kind { return KindCSV }

// Parse maps every row onto a Document. Malformed rows are skipped.
func (f *CSVFormat) Parse(ctx context.Context, name string, data []byte) ([]domain.Document, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := headerIndex(header)
	cols := resolvedColumns{
		id:       lookupColumns(index, f.columns.ID),
		title:    lookupColumns(index, f.columns.Title),
		abstract: lookupColumns(index, f.columns.Abstract),
		date:     lookupColumns(index, f.columns.Date),
		source:   lookupColumns(index, f.columns.Source),
	}
	if len(cols.id) == 0 {
		f.warn("csv has no identifier column", "file", name, "header", header)
		return nil, nil
	}

	var docs []domain.Document
	for line := 2; ; line++ {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return docs, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			f.warn("skip malformed csv row", "file", name, "line", parseErr.Line, "error", parseErr.Err)
			continue
		}
		if err != nil {
			return docs, fmt.Errorf("read row %d: %w", line, err)
		}

		doc, ok := cols.document(record)
		if !ok {
			f.debug("skip csv row without usable content", "file", name, "line", line)
			continue
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

type resolvedColumns struct {
	id, title, abstract, date, source []int
}

func (c resolvedColumns) document(record []string) (domain.Document, bool) {
	id := firstCell(record, c.id)
	if id == "" {
		return domain.Document{}, false
	}

	title := firstCell(record, c.title)
	abstract := firstCell(record, c.abstract)
	if utf8.RuneCountInString(abstract) < domain.MinAbstractLength {
		if utf8.RuneCountInString(title) < domain.MinAbstractLength {
			return domain.Document{}, false
		}
		abstract = title
	}

	source := domain.ParseSource(firstCell(record, c.source))
	if source == domain.SourceUnknown {
		source = domain.SourceCSV
	}

	return domain.Document{
		ExternalID:      id,
		Title:           title,
		Abstract:        abstract,
		PublicationDate: firstCell(record, c.date),
		Source:          source,
	}, true
}

// normalizeHeader folds a header cell into snake_case for alias matching.
func normalizeHeader(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "/", "_", "-", "_").Replace(name)
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		if key == "" {
			continue
		}
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}
	return index
}

func lookupColumns(index map[string]int, aliases []string) []int {
	var out []int
	for _, alias := range aliases {
		if i, ok := index[normalizeHeader(alias)]; ok {
			out = append(out, i)
		}
	}
	return out
}

func firstCell(record []string, columns []int) string {
	for _, i := range columns {
		if i >= len(record) {
			continue
		}
		if v := cleanCell(record[i]); v != "" {
			return v
		}
	}
	return ""
}

func (f *CSVFormat) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

func (f *CSVFormat) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
