package usecase

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"PatentTriage/internal/domain"
	"PatentTriage/internal/logging"
	"PatentTriage/internal/ports"
)

var exportHeader = []string{
	"patent_id", "abstract_sha1", "title", "abstract", "relevance", "subsystem",
	"pub_date", "source", "classifier_id", "scored_at",
}

// Exporter writes stored results as CSV.
type Exporter struct {
	results ports.ResultRepository
	logger  *slog.Logger
}

// NewExporter builds an exporter over results.
func NewExporter(results ports.ResultRepository, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Exporter{results: results, logger: logger}
}

// ExportCSV writes a header and one row per result matching filter, oldest
// first, and returns the number of rows written. Tags are joined with ";".
func (e *Exporter) ExportCSV(ctx context.Context, w io.Writer, filter ports.ResultFilter) (int, error) {
	out := csv.NewWriter(w)
	if err := out.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	err := e.results.EachResult(ctx, filter, func(r domain.Result) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows++
		return out.Write([]string{
			r.ExternalID,
			r.Fingerprint,
			r.Title,
			r.Abstract,
			string(r.Relevance),
			strings.Join(r.Tags, ";"),
			r.PublicationDate,
			string(r.Source),
			r.ClassifierID,
			r.ScoredAt.Format(time.RFC3339),
		})
	})
	if err != nil {
		return rows, fmt.Errorf("export results: %w", err)
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return rows, fmt.Errorf("flush export: %w", err)
	}
	e.logger.Info("results exported", "rows", rows)
	return rows, nil
}
