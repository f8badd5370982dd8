package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/storage"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// ReconcileRequest is the body of POST /api/v1/reconcile. Amounts may be JSON
// numbers or Brazilian formatted strings ("1.500" is fifteen hundred).
type ReconcileRequest struct {
	Period      string             `json:"period"`
	Segment     string             `json:"segment"`
	CurrentBase json.RawMessage    `json:"current_base"`
	Target      json.RawMessage    `json:"target"`
	Candidates  []models.Candidate `json:"candidates"`
	PoolLimit   *int               `json:"pool_limit"`
}

func (r *ReconcileRequest) group() (models.Group, error) {
	base, err := models.ParseAmountJSON(r.CurrentBase)
	if err != nil {
		return models.Group{}, errors.ValidationError(errors.CodeInvalidAmount, "current_base", string(r.CurrentBase), err)
	}
	if base == nil {
		return models.Group{}, errors.ValidationError(errors.CodeMissingField, "current_base", nil, nil)
	}
	target, err := models.ParseAmountJSON(r.Target)
	if err != nil {
		return models.Group{}, errors.ValidationError(errors.CodeInvalidAmount, "target", string(r.Target), err)
	}
	return models.Group{
		Key:          models.GroupKey{Period: r.Period, Segment: models.ParseSegment(r.Segment)},
		BaseOverride: base,
		Target:       target,
		Candidates:   r.Candidates,
	}, nil
}

// BatchError is a group that failed inside a batch
type BatchError struct {
	Group   models.GroupKey  `json:"group"`
	Code    errors.ErrorCode `json:"code,omitempty"`
	Message string           `json:"message"`
}

// BatchResponse is the data of POST /api/v1/reconcile/batch
type BatchResponse struct {
	Results []*models.ReconciliationResult `json:"results"`
	Errors  []BatchError                   `json:"errors,omitempty"`
	Summary map[models.QualityStatus]int   `json:"summary"`
}

func (s *Server) handleHealth(c *gin.Context) {
	success(c, http.StatusOK, gin.H{
		"status":  "UP",
		"storage": s.store != nil,
	}, nil)
}

func (s *Server) handleReconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.ValidationError(errors.CodeInvalidData, "body", nil, err).
			WithSuggestion("send {\"current_base\", \"target\", \"candidates\": [{\"label\", \"value\", \"origin_tag\"}]}"))
		return
	}
	group, err := req.group()
	if err != nil {
		fail(c, err)
		return
	}

	svc := s.reconciler()
	if req.PoolLimit != nil {
		cfg := svc.Config()
		// clients may narrow the pool, never widen it past the server setting
		if limit := cfg.EffectivePoolLimit(); *req.PoolLimit > limit {
			fail(c, errors.ValidationError(errors.CodeInvalidPoolLimit, "pool_limit", *req.PoolLimit, nil).
				WithSuggestion(fmt.Sprintf("use a pool_limit between 1 and %d", limit)))
			return
		}
		cfg.PoolLimit = *req.PoolLimit
		if svc, err = s.newService(cfg); err != nil {
			fail(c, err)
			return
		}
	}

	result, err := svc.ReconcileGroup(c.Request.Context(), group)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, result, nil)
}

// handleBatch accepts a JSON list of groups or a multipart "file" upload
func (s *Server) handleBatch(c *gin.Context) {
	ctx := c.Request.Context()
	source := "api"

	var groups []models.Group
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			fail(c, errors.ValidationError(errors.CodeMissingField, "file", nil, err).
				WithSuggestion("upload the payroll file in the 'file' form field"))
			return
		}
		f, err := header.Open()
		if err != nil {
			fail(c, errors.FileError(errors.CodeFileCorrupted, header.Filename, err))
			return
		}
		defer f.Close()

		groups, _, err = s.parser.ParseReader(ctx, f, header.Filename)
		if err != nil {
			fail(c, err)
			return
		}
		source = header.Filename
	} else if err := c.ShouldBindJSON(&groups); err != nil {
		fail(c, errors.ValidationError(errors.CodeInvalidData, "body", nil, err).
			WithSuggestion("send a JSON list of groups or a multipart 'file'"))
		return
	}
	if len(groups) == 0 {
		fail(c, errors.ValidationError(errors.CodeMissingField, "groups", nil, nil))
		return
	}

	svc := s.reconciler()
	batch, err := svc.ReconcileBatch(ctx, groups, nil)
	if err != nil {
		fail(c, err)
		return
	}

	resp := BatchResponse{Results: batch.Results, Summary: batch.Summary()}
	for _, ge := range batch.Errors {
		be := BatchError{Group: ge.Group, Message: ge.Err.Error()}
		if re, ok := errors.AsReconcilerError(ge.Err); ok {
			be.Code = re.Code
			be.Message = re.Message
		}
		resp.Errors = append(resp.Errors, be)
	}

	meta := Meta{
		"groups":      len(groups),
		"failed":      len(batch.Errors),
		"duration_ms": batch.Duration.Milliseconds(),
	}
	if s.store != nil {
		run := storage.NewRun(source, svc.Config(), batch)
		if err := s.store.SaveRun(ctx, run); err != nil {
			fail(c, err)
			return
		}
		meta["run_id"] = run.ID
	}
	success(c, http.StatusOK, resp, meta)
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		fail(c, errors.StorageError(errors.CodeStorageUnavailable, c.FullPath(), nil).
			WithSuggestion("start the server with --db to keep a history of runs"))
		return false
	}
	return true
}

func (s *Server) handleListRuns(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	limit := storage.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, errors.ValidationError(errors.CodeOutOfRange, "limit", raw, err))
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	success(c, http.StatusOK, runs, Meta{"count": len(runs)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, run, nil)
}

func (s *Server) handleRadar(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	var segment models.Segment
	if raw := strings.TrimSpace(c.Query("segment")); raw != "" {
		segment = models.ParseSegment(raw)
	}

	rows, err := s.store.Radar(c.Request.Context(), segment)
	if err != nil {
		fail(c, err)
		return
	}
	if rows == nil {
		rows = []reconciler.RadarRow{}
	}
	success(c, http.StatusOK, rows, Meta{"segment": segment, "count": len(rows)})
}
