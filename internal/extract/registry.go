package extract

import (
	"context"
	"fmt"

	"PatentTriage/internal/domain"
)

// Format captures a single parsing strategy (CSV, XML, gzip, zip).
type Format interface {
	Kind() Kind
	Parse(ctx context.Context, name string, data []byte) ([]domain.Document, error)
}

// Registry keeps a mapping from kinds to their format implementations.
type Registry struct {
	formats map[Kind]Format
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{formats: map[Kind]Format{}}
}

// Register adds or replaces a format implementation.
func (r *Registry) Register(format Format) {
	if r.formats == nil {
		r.formats = map[Kind]Format{}
	}
	r.formats[format.Kind()] = format
}

// Resolve returns a format by kind or an error if it is absent.
func (r *Registry) Resolve(kind Kind) (Format, error) {
	if format, ok := r.formats[kind]; ok {
		return format, nil
	}
	return nil, fmt.Errorf("format %s is not registered", kind)
}
