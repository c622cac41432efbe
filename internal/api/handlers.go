package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/outreach/internal/catalog"
	outmail "github.com/foxzi/outreach/internal/mail"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/orchestrator"
	"github.com/foxzi/outreach/internal/ratelimit"
	"github.com/foxzi/outreach/internal/reply"
	"github.com/foxzi/outreach/internal/review"
	"github.com/foxzi/outreach/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	apiStopReason    = "stopped via api"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string                    `json:"status"`
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Loops   []orchestrator.LoopStatus `json:"loops,omitempty"`
}

// StatusResponse is the response for GET /status
type StatusResponse struct {
	Loops     []orchestrator.LoopStatus `json:"loops"`
	Providers []string                  `json:"providers"`
}

// ResolveRequest is the request body for POST /reviews/{id}/resolve
type ResolveRequest struct {
	Decision string `json:"decision"` // approve or discard
}

// InitialMessage is the campaign email already sent to a new prospect
type InitialMessage struct {
	Subject   string     `json:"subject"`
	Content   string     `json:"content"`
	MessageID string     `json:"message_id"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// CreateProspectRequest is the request body for POST /prospects
type CreateProspectRequest struct {
	CampaignID string          `json:"campaign_id"`
	Email      string          `json:"email"`
	FirstName  string          `json:"first_name"`
	LastName   string          `json:"last_name"`
	Company    string          `json:"company,omitempty"`
	Industry   string          `json:"industry,omitempty"`
	Title      string          `json:"title,omitempty"`
	Location   string          `json:"location,omitempty"`
	ProviderID string          `json:"provider_id"`
	Initial    *InitialMessage `json:"initial,omitempty"`
}

// StopRequest is the optional request body for POST /prospects/{id}/stop
type StopRequest struct {
	Reason string `json:"reason"`
}

// ProspectResponse is the response for GET /prospects/{id}
type ProspectResponse struct {
	Prospect *models.Prospect `json:"prospect"`
	Thread   *models.Thread   `json:"thread,omitempty"`
	Messages []models.Message `json:"messages,omitempty"`
}

// ClassifyRequest is the request body for POST /classify
type ClassifyRequest struct {
	From    string            `json:"from"`
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ClassifyResponse is the response for POST /classify
type ClassifyResponse struct {
	Reply   reply.Result                 `json:"reply"`
	Intents *models.ClassificationResult `json:"intents,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Loops:   s.loopStatuses(),
	})
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	providers := s.deps.Providers
	if providers == nil {
		providers = []string{}
	}
	sendJSON(w, http.StatusOK, StatusResponse{
		Loops:     s.loopStatuses(),
		Providers: providers,
	})
}

func (s *Server) loopStatuses() []orchestrator.LoopStatus {
	var loops []orchestrator.LoopStatus
	if s.deps.Inbound != nil {
		loops = append(loops, s.deps.Inbound.Status())
	}
	if s.deps.FollowUps != nil {
		loops = append(loops, s.deps.FollowUps.Status())
	}
	return loops
}

// handleListReviews handles GET /api/v1/reviews
func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	status := models.ReviewStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ReviewPending, models.ReviewApproved, models.ReviewDiscard:
	default:
		sendError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.deps.Reviews.List(r.Context(), status, limit)
	if err != nil {
		s.sendFailure(w, "failed to list reviews", err)
		return
	}
	if items == nil {
		items = []*models.ReviewItem{}
	}
	sendJSON(w, http.StatusOK, items)
}

// handleGetReview handles GET /api/v1/reviews/{id}
func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Reviews.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendFailure(w, "failed to get review", err)
		return
	}
	sendJSON(w, http.StatusOK, item)
}

// handleResolveReview handles POST /api/v1/reviews/{id}/resolve
func (s *Server) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	var (
		item *models.ReviewItem
		err  error
	)
	switch strings.ToLower(req.Decision) {
	case "approve", string(models.ReviewApproved):
		item, err = s.deps.Resolver.ApproveReview(r.Context(), id)
	case "discard", string(models.ReviewDiscard):
		item, err = s.deps.Resolver.DiscardReview(r.Context(), id)
	default:
		sendError(w, http.StatusBadRequest, "decision must be approve or discard")
		return
	}
	if err != nil {
		s.sendFailure(w, "failed to resolve review", err)
		return
	}

	s.logger.Info("review resolved via api", "review_id", id, "decision", item.Status)
	sendJSON(w, http.StatusOK, item)
}

// handleListProspects handles GET /api/v1/prospects
func (s *Server) handleListProspects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(r)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			sendError(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}

	prospects, err := s.deps.Prospects.ListProspects(r.Context(), storage.ProspectFilter{
		Status:     models.FollowUpStatus(q.Get("status")),
		CampaignID: q.Get("campaign_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.sendFailure(w, "failed to list prospects", err)
		return
	}
	if prospects == nil {
		prospects = []*models.Prospect{}
	}
	sendJSON(w, http.StatusOK, prospects)
}

// handleCreateProspect handles POST /api/v1/prospects
func (s *Server) handleCreateProspect(w http.ResponseWriter, r *http.Request) {
	var req CreateProspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr, err := mail.ParseAddress(req.Email)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if req.CampaignID == "" {
		sendError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}
	if req.ProviderID == "" {
		sendError(w, http.StatusBadRequest, "provider_id is required")
		return
	}
	if s.deps.Catalog != nil {
		if _, err := s.deps.Catalog.Campaign(req.CampaignID); err != nil {
			sendError(w, http.StatusBadRequest, "unknown campaign "+req.CampaignID)
			return
		}
	}

	p := &models.Prospect{
		CampaignID: req.CampaignID,
		Email:      addr.Address,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Company:    req.Company,
		Industry:   req.Industry,
		Title:      req.Title,
		Location:   req.Location,
		ProviderID: req.ProviderID,
	}

	var initial *models.Message
	if req.Initial != nil {
		initial = &models.Message{
			Subject:       req.Initial.Subject,
			Content:       req.Initial.Content,
			ProviderMsgID: req.Initial.MessageID,
		}
		if req.Initial.SentAt != nil {
			initial.Timestamp = *req.Initial.SentAt
		}
	}

	if err := s.deps.Prospects.EnrollProspect(r.Context(), p, initial); err != nil {
		s.sendFailure(w, "failed to create prospect", err)
		return
	}

	s.logger.Info("prospect enrolled via api", "prospect_id", p.ID, "campaign_id", p.CampaignID)
	sendJSON(w, http.StatusCreated, p)
}

// handleGetProspect handles GET /api/v1/prospects/{id}
func (s *Server) handleGetProspect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.deps.Prospects.GetProspect(r.Context(), id)
	if err != nil {
		s.sendFailure(w, "failed to get prospect", err)
		return
	}

	resp := ProspectResponse{Prospect: p}
	thread, err := s.deps.Prospects.GetThreadByProspect(r.Context(), id)
	switch {
	case err == nil:
		resp.Thread = thread
		resp.Messages = thread.Messages
	case !errors.Is(err, storage.ErrNotFound):
		s.sendFailure(w, "failed to get thread", err)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleStopProspect handles POST /api/v1/prospects/{id}/stop
func (s *Server) handleStopProspect(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = apiStopReason
	}

	p, err := s.deps.Prospects.UpdateProspect(r.Context(), chi.URLParam(r, "id"), func(p *models.Prospect) error {
		if p.FollowUpStatus != models.FollowUpActive {
			return storage.ErrNotActive
		}
		p.FollowUpStatus = models.FollowUpStopped
		p.StopReason = reason
		return nil
	})
	if err != nil {
		s.sendFailure(w, "failed to stop prospect", err)
		return
	}

	metrics.IncFollowUpsStopped(string(models.FollowUpStopped))
	s.logger.Info("follow-ups stopped via api", "prospect_id", p.ID, "reason", reason)
	sendJSON(w, http.StatusOK, p)
}

// handleRateLimits handles GET /api/v1/ratelimits
func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Quotas.Stats(r.Context(), s.deps.Providers)
	if stats == nil {
		stats = []*ratelimit.Stats{}
	}
	sendJSON(w, http.StatusOK, stats)
}

// handleRunInbound handles POST /api/v1/loops/inbound/run
func (s *Server) handleRunInbound(w http.ResponseWriter, r *http.Request) {
	if s.deps.Inbound == nil {
		sendError(w, http.StatusServiceUnavailable, "inbound loop not configured")
		return
	}
	report, err := s.deps.Inbound.RunOnce(r.Context())
	if err != nil {
		s.sendFailure(w, "inbound run failed", err)
		return
	}
	sendJSON(w, http.StatusOK, report)
}

// handleRunFollowUps handles POST /api/v1/loops/followup/run
func (s *Server) handleRunFollowUps(w http.ResponseWriter, r *http.Request) {
	if s.deps.FollowUps == nil {
		sendError(w, http.StatusServiceUnavailable, "follow-up loop not configured")
		return
	}
	report, err := s.deps.FollowUps.RunOnce(r.Context())
	if err != nil {
		s.sendFailure(w, "follow-up run failed", err)
		return
	}
	sendJSON(w, http.StatusOK, report)
}

// handleClassify handles POST /api/v1/classify. Intents are only
// ranked for genuine replies, as in the inbound pipeline.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replies == nil {
		sendError(w, http.StatusServiceUnavailable, "classifier not configured")
		return
	}

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Body) == "" {
		sendError(w, http.StatusBadRequest, "subject or body is required")
		return
	}

	msg := &models.RawMessage{
		From:       req.From,
		Subject:    req.Subject,
		Body:       req.Body,
		Headers:    req.Headers,
		ReceivedAt: time.Now(),
	}
	resp := ClassifyResponse{Reply: s.deps.Replies.Classify(r.Context(), msg)}
	if resp.Reply.IsGenuine() && s.deps.Intents != nil && s.deps.Catalog != nil {
		result := s.deps.Intents.Classify(r.Context(), req.Subject, req.Body, s.deps.Catalog.Intents())
		resp.Intents = &result
	}
	sendJSON(w, http.StatusOK, resp)
}

// sendFailure maps domain errors to HTTP status codes
func (s *Server) sendFailure(w http.ResponseWriter, msg string, err error) {
	var terr *outmail.TransportError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, review.ErrInvalidDecision):
		status = http.StatusBadRequest
	case errors.Is(err, review.ErrAlreadyResolved),
		errors.Is(err, storage.ErrExists),
		errors.Is(err, storage.ErrNotActive),
		errors.Is(err, orchestrator.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, ratelimit.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.As(err, &terr):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, "error", err)
	}
	sendError(w, status, msg+": "+err.Error())
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
