package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	"github.com/kailas-cloud/dicomtags/internal/logger"
	healthuc "github.com/kailas-cloud/dicomtags/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/dicomtags/internal/usecase/ingest"
	tagsuc "github.com/kailas-cloud/dicomtags/internal/usecase/querytag"
	reindexuc "github.com/kailas-cloud/dicomtags/internal/usecase/reindex"
)

// Options tune request handling.
type Options struct {
	// MaxAllowedCount caps the number of registered extended query tags.
	MaxAllowedCount int
	DefaultPageSize int
	MaxPageSize     int
	// MaxInstanceBytes caps the size of a stored DICOM JSON body.
	MaxInstanceBytes int64
}

func (o *Options) applyDefaults() {
	if o.MaxAllowedCount <= 0 {
		o.MaxAllowedCount = 128
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 100
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 200
	}
	if o.MaxInstanceBytes <= 0 {
		o.MaxInstanceBytes = 8 << 20
	}
}

// Server exposes the tag registry, reindex operations and ingestion over HTTP.
type Server struct {
	tags          *tagsuc.Service
	reindex       *reindexuc.Service
	ingest        *ingestuc.Service
	health        *healthuc.Service
	opts          Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	tags *tagsuc.Service,
	reindex *reindexuc.Service,
	ingest *ingestuc.Service,
	health *healthuc.Service,
	opts Options,
	logger *zap.Logger,
) *Server {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		tags:          tags,
		reindex:       reindex,
		ingest:        ingest,
		health:        health,
		opts:          opts,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Register mounts every route on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/extendedquerytags", func(r chi.Router) {
			r.Post("/", s.AddTags)
			r.Get("/", s.ListTags)
			r.Get("/{path}", s.GetTag)
			r.Patch("/{path}", s.UpdateTag)
			r.Delete("/{path}", s.DeleteTag)
			r.Get("/{path}/errors", s.ListTagErrors)
		})
		r.Get("/operations/{id}", s.GetOperation)
		r.Post("/instances", s.StoreInstance)
	})
}

// AddTags handles POST /v1/extendedquerytags.
func (s *Server) AddTags(w http.ResponseWriter, r *http.Request) {
	var body []AddTagRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, codeInvalidTag, "At least one tag is required")
		return
	}

	reqs := make([]domtag.AddRequest, len(body))
	for i, t := range body {
		reqs[i] = domtag.AddRequest{Path: t.Path, VR: t.VR, PrivateCreator: t.PrivateCreator, Level: t.Level}
	}
	added, err := s.tags.Add(r.Context(), reqs, s.opts.MaxAllowedCount)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	keys := make([]int64, len(added))
	for i, e := range added {
		keys[i] = e.Key()
	}
	opID, err := s.reindex.Start(r.Context(), keys)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	// Re-read so the response shows the tags as Reindexing under the new operation.
	current, err := s.tags.GetByKeys(r.Context(), keys)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AddTagsResponse{
		OperationID: opID.String(),
		Tags:        tagsToResponse(current),
	})
}

// ListTags handles GET /v1/extendedquerytags.
func (s *Server) ListTags(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := s.paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	entries, err := s.tags.List(r.Context(), limit, offset)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tagsToResponse(entries))
}

// GetTag handles GET /v1/extendedquerytags/{path}.
func (s *Server) GetTag(w http.ResponseWriter, r *http.Request) {
	e, err := s.tags.Get(r.Context(), chi.URLParam(r, "path"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tagToResponse(e))
}

// UpdateTag handles PATCH /v1/extendedquerytags/{path}.
func (s *Server) UpdateTag(w http.ResponseWriter, r *http.Request) {
	var body UpdateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	status, err := domtag.ParseQueryStatus(body.QueryStatus)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	e, err := s.tags.UpdateQueryStatus(r.Context(), chi.URLParam(r, "path"), status)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tagToResponse(e))
}

// DeleteTag handles DELETE /v1/extendedquerytags/{path}.
func (s *Server) DeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := s.tags.Delete(r.Context(), chi.URLParam(r, "path")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTagErrors handles GET /v1/extendedquerytags/{path}/errors.
func (s *Server) ListTagErrors(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := s.paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	recs, err := s.tags.GetErrors(r.Context(), chi.URLParam(r, "path"), limit, offset)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	out := make([]TagErrorResponse, len(recs))
	for i, rec := range recs {
		out[i] = tagErrorToResponse(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOperation handles GET /v1/operations/{id}.
func (s *Server) GetOperation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid operation id")
		return
	}
	sum, err := s.reindex.GetStatus(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryToResponse(sum))
}

// StoreInstance handles POST /v1/instances.
func (s *Server) StoreInstance(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxInstanceBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, "Instance body too large")
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	inst, err := s.ingest.Store(r.Context(), data)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, InstanceResponse{
		Watermark:         inst.Watermark,
		StudyInstanceUID:  inst.StudyUID,
		SeriesInstanceUID: inst.SeriesUID,
		SOPInstanceUID:    inst.SOPUID,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) paging(r *http.Request) (limit, offset int, err error) {
	limit = s.opts.DefaultPageSize
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("limit must be a positive integer, got %q", v)
		}
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer, got %q", v)
		}
	}
	return limit, offset, nil
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	logger.FromContext(r.Context()).Error("unhandled error",
		zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// tagPath extracts the offending tag path from a registry error, if any.
func tagPath(err error) string {
	var te *domain.TagError
	if errors.As(err, &te) {
		return strings.TrimSpace(te.Path)
	}
	return ""
}
