package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"PatentTriage/internal/apperr"
	"PatentTriage/internal/classify"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/fingerprint"
	"PatentTriage/internal/ports"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type jobResponse struct {
	JobID           string     `json:"jobId"`
	Filename        string     `json:"filename"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	TotalParsed     int        `json:"totalParsed"`
	Existing        int        `json:"existingScores"`
	QueuedDuplicate int        `json:"alreadyQueued"`
	Enqueued        int        `json:"newToScore"`
	Log             string     `json:"log"`
}

func toJobResponse(job domain.IngestJob) jobResponse {
	return jobResponse{
		JobID:           job.ID,
		Filename:        job.Filename,
		Status:          string(job.Status),
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		TotalParsed:     job.TotalParsed,
		Existing:        job.Existing,
		QueuedDuplicate: job.QueuedDuplicate,
		Enqueued:        job.Enqueued,
		Log:             job.Log,
	}
}

type queueItem struct {
	PatentID     string `json:"patentId"`
	AbstractSha1 string `json:"abstractSha1"`
	Title        string `json:"title"`
	Abstract     string `json:"abstract"`
	PubDate      string `json:"pubDate"`
	Source       string `json:"source"`
	Status       string `json:"status"`
	EnqueuedAt   string `json:"enqueuedAt"`
}

type scoreItem struct {
	PatentID     string   `json:"patentId"`
	AbstractSha1 string   `json:"abstractSha1"`
	Relevance    string   `json:"relevance"`
	Subsystem    []string `json:"subsystem"`
	Title        string   `json:"title"`
	Abstract     string   `json:"abstract"`
	PubDate      string   `json:"pubDate"`
	Source       string   `json:"source"`
	ClassifierID string   `json:"classifierId"`
	ScoredAt     string   `json:"scoredAt"`
}

type listResponse[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": s.deps.Settings.Version})
}

func (s *Server) handleSettings(c *gin.Context) {
	settings := s.deps.Settings
	if settings.AirtableBaseID == "" {
		settings.AirtableBaseID = "not-set"
	}
	c.JSON(http.StatusOK, settings)
}

// handleIngest accepts a multipart upload and runs the ingest in the
// background unless wait=true.
func (s *Server) handleIngest(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		handleError(c, apperr.New(http.StatusBadRequest, "Missing upload field 'file'", err))
		return
	}

	f, err := header.Open()
	if err != nil {
		handleError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		handleError(c, fmt.Errorf("read upload: %w", err))
		return
	}

	ctx := c.Request.Context()
	job, err := s.deps.Ingestor.Begin(ctx, header.Filename)
	if err != nil {
		handleError(c, err)
		return
	}

	if c.Query("wait") == "true" {
		if _, err := s.deps.Ingestor.Run(ctx, job, bytes.NewReader(data)); err != nil {
			s.logger.Warn("ingest failed", "job", job.ID, "error", err)
		}
		s.respondJob(c, http.StatusOK, job.ID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.deps.Ingestor.Run(context.WithoutCancel(ctx), job, bytes.NewReader(data))
	}()
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleIngestJob(c *gin.Context) {
	s.respondJob(c, http.StatusOK, c.Param("id"))
}

func (s *Server) respondJob(c *gin.Context, status int, id string) {
	job, ok, err := s.deps.Jobs.GetJob(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	if !ok {
		handleError(c, apperr.New(http.StatusNotFound, "Ingest job not found", nil))
		return
	}
	c.JSON(status, toJobResponse(job))
}

func (s *Server) handleQueue(c *gin.Context) {
	page, pageSize, err := pagination(c)
	if err != nil {
		handleError(c, err)
		return
	}

	filter := ports.QueueFilter{Limit: pageSize, Offset: (page - 1) * pageSize}
	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			handleError(c, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err))
			return
		}
		filter.Status = status
	}

	items, total, err := s.deps.Queue.ListQueue(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	out := make([]queueItem, 0, len(items))
	for _, item := range items {
		out = append(out, queueItem{
			PatentID:     item.ExternalID,
			AbstractSha1: item.Fingerprint,
			Title:        item.Title,
			Abstract:     item.Abstract,
			PubDate:      item.PublicationDate,
			Source:       string(item.Source),
			Status:       string(item.Status),
			EnqueuedAt:   item.EnqueuedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, listResponse[queueItem]{Items: out, Page: page, PageSize: pageSize, Total: total})
}

func (s *Server) handleSkip(c *gin.Context) {
	var ids []string
	if err := c.ShouldBindJSON(&ids); err != nil {
		handleError(c, apperr.New(http.StatusBadRequest, "Body must be a JSON array of patent ids", err))
		return
	}

	updated, err := s.deps.Queue.Skip(c.Request.Context(), ids)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated, "patentIds": ids})
}

func (s *Server) handleProcess(c *gin.Context) {
	limit := s.deps.BatchSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			handleError(c, apperr.New(http.StatusBadRequest, "limit must be a positive integer", err))
			return
		}
		limit = n
	}

	minRelevance := s.deps.MinRelevance
	if raw := c.Query("min_relevance"); raw != "" {
		r, err := domain.ParseRelevance(raw)
		if err != nil {
			handleError(c, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err))
			return
		}
		minRelevance = r
	}

	var (
		res domain.BatchResult
		err error
	)
	if c.Query("all") == "true" {
		res, err = s.deps.Batch.ProcessAll(c.Request.Context(), limit, minRelevance)
	} else {
		res, err = s.deps.Batch.ProcessBatch(c.Request.Context(), limit, minRelevance)
	}
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleScores(c *gin.Context) {
	page, pageSize, err := pagination(c)
	if err != nil {
		handleError(c, err)
		return
	}

	filter, err := resultFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	results, total, err := s.deps.Results.ListResults(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	out := make([]scoreItem, 0, len(results))
	for _, r := range results {
		out = append(out, toScoreItem(r))
	}
	c.JSON(http.StatusOK, listResponse[scoreItem]{Items: out, Page: page, PageSize: pageSize, Total: total})
}

// handleExport streams every matching result as CSV.
func (s *Server) handleExport(c *gin.Context) {
	filter, err := resultFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}

	var buf bytes.Buffer
	if _, err := s.deps.Exporter.ExportCSV(c.Request.Context(), &buf, filter); err != nil {
		handleError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="scores.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func resultFilter(c *gin.Context) (ports.ResultFilter, error) {
	filter := ports.ResultFilter{Search: strings.TrimSpace(c.Query("search"))}
	if raw := c.Query("relevance"); raw != "" {
		r, err := domain.ParseRelevance(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
		}
		filter.Relevance = r
	}
	if raw := c.Query("source"); raw != "" {
		filter.Source = domain.ParseSource(raw)
	}
	return filter, nil
}

func (s *Server) handleScoreDetail(c *gin.Context) {
	key := domain.Key{ExternalID: c.Param("id"), Fingerprint: c.Param("fingerprint")}
	result, ok, err := s.deps.Results.GetResult(c.Request.Context(), key)
	if err != nil {
		handleError(c, err)
		return
	}
	if !ok {
		handleError(c, apperr.New(http.StatusNotFound, "Score not found", nil))
		return
	}
	c.JSON(http.StatusOK, toScoreItem(result))
}

func toScoreItem(r domain.Result) scoreItem {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return scoreItem{
		PatentID:     r.ExternalID,
		AbstractSha1: r.Fingerprint,
		Relevance:    string(r.Relevance),
		Subsystem:    tags,
		Title:        r.Title,
		Abstract:     r.Abstract,
		PubDate:      r.PublicationDate,
		Source:       string(r.Source),
		ClassifierID: r.ClassifierID,
		ScoredAt:     r.ScoredAt.Format(time.RFC3339),
	}
}

// scoreRequest takes tag rules either as a JSON map or as "Tag: p1, p2" lines.
type scoreRequest struct {
	Title       string              `json:"title"`
	Abstract    string              `json:"abstract"`
	PatentID    string              `json:"patentId"`
	Mapping     map[string][]string `json:"mapping"`
	MappingText string              `json:"mappingText"`
	Mode        string              `json:"mode"`
}

// handleScore classifies an ad hoc document without touching the queue.
func (s *Server) handleScore(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperr.New(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Abstract) == "" {
		handleError(c, apperr.New(http.StatusBadRequest, "title or abstract is required", nil))
		return
	}

	rules := s.deps.Rules
	switch {
	case len(req.Mapping) > 0:
		rules = classify.RulesFromMap(req.Mapping)
	case strings.TrimSpace(req.MappingText) != "":
		rules = classify.ParseMapping(req.MappingText)
	}
	rules = rules.WithDefaults()

	classifier := s.deps.Classifier
	if req.Mode == "keyword" {
		classifier = s.deps.Keyword
	}

	outcome, err := classifier.Classify(c.Request.Context(), req.Title, req.Abstract, rules)
	if err != nil {
		handleError(c, fmt.Errorf("%w: %w", apperr.ErrUpstream, err))
		return
	}

	tags := outcome.Tags
	if tags == nil {
		tags = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"relevance":    outcome.Relevance,
		"subsystem":    tags,
		"sha1":         fingerprint.Compute(req.PatentID, req.Abstract, s.deps.Settings.ClassifierVersion),
		"classifierId": classifier.ID(),
	})
}

type syncRequest struct {
	PatentIDs []string `json:"patentIds"`
}

func (s *Server) handleSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		handleError(c, apperr.New(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	report, err := s.deps.Syncer.Sync(c.Request.Context(), req.PatentIDs)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type recordItem struct {
	ID        string   `json:"id"`
	PatentID  string   `json:"patentId"`
	Title     string   `json:"title"`
	Abstract  string   `json:"abstract"`
	Relevance string   `json:"relevance"`
	Subsystem []string `json:"subsystem"`
	PubDate   string   `json:"pubDate"`
}

func toRecordItem(rec domain.TrackerRecord) recordItem {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return recordItem{
		ID:        rec.RemoteID,
		PatentID:  rec.ExternalID,
		Title:     rec.Title,
		Abstract:  rec.Abstract,
		Relevance: string(rec.Relevance),
		Subsystem: tags,
		PubDate:   rec.PublicationDate,
	}
}

type recordsResponse struct {
	Records []recordItem `json:"records"`
	Total   int          `json:"total"`
	Offset  int          `json:"offset"`
	Limit   int          `json:"limit"`
}

// handleRecords browses the tracker table with limit/offset windows.
func (s *Server) handleRecords(c *gin.Context) {
	if s.deps.Records == nil {
		handleError(c, fmt.Errorf("tracker: %w", apperr.ErrNotConfigured))
		return
	}

	filter := ports.TrackerFilter{
		Search: strings.TrimSpace(c.Query("q")),
		Tag:    strings.TrimSpace(c.Query("subsystem")),
		Limit:  25,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			handleError(c, apperr.New(http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxPageSize), err))
			return
		}
		filter.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			handleError(c, apperr.New(http.StatusBadRequest, "offset must be a non-negative integer", err))
			return
		}
		filter.Offset = n
	}
	if raw := c.Query("relevance"); raw != "" {
		r, err := domain.ParseRelevance(raw)
		if err != nil {
			handleError(c, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err))
			return
		}
		filter.Relevance = r
	}

	records, total, err := s.deps.Records.ListRecords(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	out := make([]recordItem, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordItem(rec))
	}
	c.JSON(http.StatusOK, recordsResponse{Records: out, Total: total, Offset: filter.Offset, Limit: filter.Limit})
}

func (s *Server) handleRecord(c *gin.Context) {
	if s.deps.Records == nil {
		handleError(c, fmt.Errorf("tracker: %w", apperr.ErrNotConfigured))
		return
	}

	rec, err := s.deps.Records.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if rec == nil {
		handleError(c, apperr.New(http.StatusNotFound, fmt.Sprintf("Record %s not found", c.Param("id")), nil))
		return
	}
	c.JSON(http.StatusOK, toRecordItem(*rec))
}

type recordUpdateRequest struct {
	Relevance string   `json:"relevance"`
	Subsystem []string `json:"subsystem"`
}

// handleUpdateRecord overwrites relevance and subsystem on a tracker record.
func (s *Server) handleUpdateRecord(c *gin.Context) {
	if s.deps.Records == nil {
		handleError(c, fmt.Errorf("tracker: %w", apperr.ErrNotConfigured))
		return
	}

	var req recordUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperr.New(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	relevance, err := domain.ParseRelevance(req.Relevance)
	if err != nil {
		handleError(c, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err))
		return
	}

	tags := make([]string, 0, len(req.Subsystem))
	for _, tag := range req.Subsystem {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	rec, err := s.deps.Records.UpdateRecord(c.Request.Context(), c.Param("id"),
		domain.TrackerUpdate{Relevance: relevance, Tags: tags})
	var coded interface{ HTTPStatus() int }
	if errors.As(err, &coded) && coded.HTTPStatus() == http.StatusNotFound {
		handleError(c, apperr.New(http.StatusNotFound, fmt.Sprintf("Record %s not found", c.Param("id")), err))
		return
	}
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordItem(rec))
}

func pagination(c *gin.Context) (page, pageSize int, err error) {
	page, pageSize = 1, defaultPageSize
	if raw := c.Query("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			return 0, 0, apperr.New(http.StatusBadRequest, "page must be a positive integer", err)
		}
	}
	if raw := c.Query("page_size"); raw != "" {
		if pageSize, err = strconv.Atoi(raw); err != nil || pageSize < 1 || pageSize > maxPageSize {
			return 0, 0, apperr.New(http.StatusBadRequest, fmt.Sprintf("page_size must be between 1 and %d", maxPageSize), err)
		}
	}
	return page, pageSize, nil
}

// handleError renders err as {"detail": ...} with the mapped status code.
func handleError(c *gin.Context, err error) {
	appErr := apperr.MapError(err)
	detail := appErr.Message
	if appErr.Code != http.StatusInternalServerError {
		detail = appErr.Error()
	}
	c.AbortWithStatusJSON(appErr.Code, gin.H{"detail": detail})
}
