// Consultation session HTTP handlers.
//
// This file exposes REST endpoints for the consultation engine:
//   - POST   /sessions                      (start a consultation)
//   - GET    /sessions                      (list, paginated; operator view)
//   - GET    /sessions/{id}                 (session snapshot)
//   - DELETE /sessions/{id}                 (abandon)
//   - POST   /sessions/{id}/patient-id      (returning-patient lookup)
//   - POST   /sessions/{id}/profile         (begin new-profile collection)
//   - POST   /sessions/{id}/fields          (one demographic answer)
//   - POST   /sessions/{id}/corrections     (amend a demographic field)
//   - POST   /sessions/{id}/symptoms        (report a symptom)
//   - POST   /sessions/{id}/complete        (end-of-conversation signal)
//   - GET    /sessions/{id}/report          (report location, once REPORTED)
//
// Handlers are transport-thin: they validate input, call the session
// aggregate, and translate engine outcomes into HTTP responses. Phase
// violations surface as 409 phase_conflict — they indicate a bug in the
// integrating conversation layer, and the access log keeps them observable.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-intake-backend/internal/domain"
	"github.com/tbourn/go-intake-backend/internal/http/middleware"
	"github.com/tbourn/go-intake-backend/internal/services"
	"github.com/tbourn/go-intake-backend/internal/session"
	"github.com/tbourn/go-intake-backend/internal/utils"
)

//
// Service contracts
//

// SessionRegistry is the session lifecycle contract consumed by the HTTP
// layer. Implementations must be safe for concurrent use.
type SessionRegistry interface {
	// Start creates and registers a new consultation session.
	Start() (*session.Session, error)
	// Get returns a registered session or session.ErrSessionNotFound.
	Get(id string) (*session.Session, error)
	// Abandon drops a session; no background work continues.
	Abandon(id string) error
	// List returns sessions ordered newest first.
	List() []*session.Session
	// Count returns the number of registered sessions.
	Count() int
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for consultation sessions.
type Handlers struct {
	registry SessionRegistry
	patients PatientDirectory

	// maxSymptomRunes caps symptom description length at the transport
	// boundary. <= 0 disables the cap.
	maxSymptomRunes int
}

// New constructs a Handlers instance bound to the given collaborators.
func New(registry SessionRegistry, patients PatientDirectory, maxSymptomRunes int) *Handlers {
	return &Handlers{registry: registry, patients: patients, maxSymptomRunes: maxSymptomRunes}
}

//
// DTOs
//

// SessionResponse is the snapshot shape returned for a session.
type SessionResponse struct {
	ID            string           `json:"id"`
	Phase         string           `json:"phase"`
	Completed     bool             `json:"completed"`
	Patient       *domain.Patient  `json:"patient,omitempty"`
	Symptoms      []domain.Symptom `json:"symptoms"`
	MissingFields []string         `json:"missing_fields,omitempty"`
	ReportPath    string           `json:"report_path,omitempty"`
}

// SubmitPatientIDRequest carries a returning patient's ID.
type SubmitPatientIDRequest struct {
	PatientID string `json:"patient_id" binding:"required" example:"P12345678"`
}

// FieldRequest carries one demographic answer or correction.
type FieldRequest struct {
	Field string `json:"field" binding:"required" example:"blood_group"`
	Value string `json:"value" binding:"required" example:"O+"`
}

// SymptomRequest carries one reported complaint. Optional attributes are
// omitted rather than sent empty.
type SymptomRequest struct {
	Description string `json:"description" binding:"required" example:"headache"`
	Severity    string `json:"severity,omitempty"    example:"mild"`
	Duration    string `json:"duration,omitempty"    example:"2 days"`
	Notes       string `json:"notes,omitempty"       example:"worse in the morning"`
}

// CompleteResponse returns the saved report location.
type CompleteResponse struct {
	ReportPath string `json:"report_path"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// SessionListResponse is the paginated session list envelope.
type SessionListResponse struct {
	Items      []SessionResponse `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// snapshot assembles the response shape from a session's query methods.
func snapshot(s *session.Session) SessionResponse {
	resp := SessionResponse{
		ID:        s.ID(),
		Phase:     s.CurrentPhase().String(),
		Completed: s.Completed(),
		Symptoms:  s.SymptomSnapshot(),
	}
	if p, ok := s.PatientSnapshot(); ok {
		resp.Patient = &p
	} else {
		resp.MissingFields = s.MissingFields()
	}
	if path, ok := s.ReportLocation(); ok {
		resp.ReportPath = path
	}
	return resp
}

// clampPagination parses page/page_size query params with defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	page = utils.AtoiDefault(c.Query("page"), 1)
	pageSize = utils.AtoiDefault(c.Query("page_size"), 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

//
// Endpoints
//

// StartSession godoc
// @Summary     Start a consultation session
// @Description Creates a session in IDENTITY_RESOLUTION and returns its snapshot.
// @Tags        sessions
// @Produce     json
// @Success     201 {object} SessionResponse
// @Failure     500 {object} ErrorResponse
// @Router      /sessions [post]
func (h *Handlers) StartSession(c *gin.Context) {
	s, err := h.registry.Start()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not start session")
		return
	}
	middleware.LoggerFrom(c).Info().Str("session_id", s.ID()).Msg("session started")
	ok(c, http.StatusCreated, snapshot(s))
}

// ListSessions godoc
// @Summary     List active sessions (paginated)
// @Tags        sessions
// @Produce     json
// @Param       page      query int false "page number (1-based)"
// @Param       page_size query int false "page size (max 100)"
// @Success     200 {object} SessionListResponse
// @Router      /sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	page, pageSize := clampPagination(c)
	all := h.registry.List()

	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	items := make([]SessionResponse, 0, end-start)
	for _, s := range all[start:end] {
		items = append(items, snapshot(s))
	}
	ok(c, http.StatusOK, SessionListResponse{
		Items:      items,
		Pagination: Pagination{Page: page, PageSize: pageSize, Total: len(all)},
	})
}

// GetSession godoc
// @Summary     Get a session snapshot
// @Tags        sessions
// @Produce     json
// @Param       id path string true "session ID"
// @Success     200 {object} SessionResponse
// @Failure     404 {object} ErrorResponse
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	ok(c, http.StatusOK, snapshot(s))
}

// AbandonSession godoc
// @Summary     Abandon a session
// @Tags        sessions
// @Param       id path string true "session ID"
// @Success     204 {string} string ""
// @Failure     404 {object} ErrorResponse
// @Router      /sessions/{id} [delete]
func (h *Handlers) AbandonSession(c *gin.Context) {
	if err := h.registry.Abandon(c.Param("id")); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitPatientID godoc
// @Summary     Resolve a returning patient by ID
// @Description On success the session skips demographic collection. A miss
// @Description returns patient_not_found so the caller can offer profile creation.
// @Tags        sessions
// @Accept      json
// @Produce     json
// @Param       id   path string                  true "session ID"
// @Param       body body SubmitPatientIDRequest true "patient ID"
// @Success     200 {object} SessionResponse
// @Failure     400 {object} ErrorResponse
// @Failure     404 {object} ErrorResponse
// @Failure     409 {object} ErrorResponse
// @Router      /sessions/{id}/patient-id [post]
func (h *Handlers) SubmitPatientID(c *gin.Context) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	var req SubmitPatientIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "patient_id is required")
		return
	}
	if err := s.SubmitPatientID(c.Request.Context(), strings.TrimSpace(req.PatientID)); err != nil {
		h.failFromEngine(c, err)
		return
	}
	ok(c, http.StatusOK, snapshot(s))
}

// RequestNewProfile godoc
// @Summary     Begin new-profile collection
// @Description Accepts a full or partial demographic field set. Once every
// @Description field validates the patient is created and the session moves
// @Description to SYMPTOM_COLLECTION.
// @Tags        sessions
// @Accept      json
// @Produce     json
// @Param       id   path string               true "session ID"
// @Param       body body domain.ProfileFields true "demographic fields"
// @Success     200 {object} SessionResponse
// @Failure     400 {object} ErrorResponse
// @Failure     409 {object} ErrorResponse
// @Router      /sessions/{id}/profile [post]
func (h *Handlers) RequestNewProfile(c *gin.Context) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	var fields domain.ProfileFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed profile payload")
		return
	}
	if err := s.RequestNewProfile(c.Request.Context(), fields); err != nil {
		h.failFromEngine(c, err)
		return
	}
	ok(c, http.StatusOK, snapshot(s))
}

// SubmitDemographicField godoc
// @Summary     Submit one demographic answer
// @Tags        sessions
// @Accept      json
// @Produce     json
// @Param       id   path string       true "session ID"
// @Param       body body FieldRequest true "field name and value"
// @Success     200 {object} SessionResponse
// @Failure     400 {object} ErrorResponse
// @Failure     409 {object} ErrorResponse
// @Router      /sessions/{id}/fields [post]
func (h *Handlers) SubmitDemographicField(c *gin.Context) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	var req FieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "field and value are required")
		return
	}
	if err := s.SubmitDemographicField(c.Request.Context(), req.Field, req.Value); err != nil {
		h.failFromEngine(c, err)
		return
	}
	ok(c, http.StatusOK, snapshot(s))
}

// RequestCorrection godoc
// @Summary     Amend a demographic field mid consultation
// @Description Applies a session-local correction; the durable patient
// @Description record is unchanged and accumulated symptoms are kept.
// @Tags        sessions
// @Accept      json
// @Produce     json
// @Param       id   path string       true "session ID"
// @Param       body body FieldRequest true "field name and corrected value"
// @Success     200 {object} SessionResponse
// @Failure     400 {object} ErrorResponse
// @Failure     409 {object} ErrorResponse
// @Router      /sessions/{id}/corrections [post]
func (h *Handlers) RequestCorrection(c *gin.Context) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	var req FieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "field and value are required")
		return
	}
	if err := s.RequestCorrection(req.Field, req.Value); err != nil {
		h.failFromEngine(c, err)
		return
	}
	ok(c, http.StatusOK, snapshot(s))
}

// ReportSymptom godoc
// @Summary     Report a symptom
// @Tags        sessions
// @Accept      json
// @Produce     json
// @Param       id   path string         true "session ID"
// @Param       body body SymptomRequest true "symptom"
// @Success     200 {object} SessionResponse
// @Failure     400 {object} ErrorResponse
// @Failure     409 {object} ErrorResponse
// @Router      /sessions/{id}/symptoms [post]
func (h *Handlers) ReportSymptom(c *gin.Context) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	var req SymptomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidSymptom, "please describe the symptom")
		return
	}
	if h.maxSymptomRunes > 0 && utf8.RuneCountInString(req.Description) > h.maxSymptomRunes {
		fail(c, http.StatusBadRequest, ErrCodeInvalidSymptom, "symptom description is too long")
		return
	}

	var severity *domain.Severity
	if req.Severity != "" {
		sev, err := domain.ParseSeverity(req.Severity)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidSymptom, "severity must be mild, moderate, or severe")
			return
		}
		severity = &sev
	}
	var duration, notes *string
	if req.Duration != "" {
		duration = &req.Duration
	}
	if req.Notes != "" {
		notes = &req.Notes
	}

	if err := s.ReportSymptom(req.Description, severity, duration, notes); err != nil {
		h.failFromEngine(c, err)
		return
	}
	ok(c, http.StatusOK, snapshot(s))
}

// SignalComplete godoc
// @Summary     Signal end of consultation
// @Description Renders and saves the diagnostic report. A save failure
// @Description leaves the session in COMPLETION; repeating the call retries
// @Description the save without regenerating the report. Once REPORTED, the
// @Description existing path is returned.
// @Tags        sessions
// @Produce     json
// @Param       id path string true "session ID"
// @Success     200 {object} CompleteResponse
// @Failure     404 {object} ErrorResponse
// @Failure     409 {object} ErrorResponse
// @Failure     503 {object} ErrorResponse
// @Router      /sessions/{id}/complete [post]
func (h *Handlers) SignalComplete(c *gin.Context) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	alreadyDone := s.Completed()
	path, err := s.SignalComplete(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrReportPersistenceFailed) {
			middleware.ReportSaveFailures.Inc()
		}
		h.failFromEngine(c, err)
		return
	}
	if !alreadyDone {
		middleware.ConsultationsReported.Inc()
	}
	ok(c, http.StatusOK, CompleteResponse{ReportPath: path})
}

// GetReportLocation godoc
// @Summary     Get the saved report location
// @Tags        sessions
// @Produce     json
// @Param       id path string true "session ID"
// @Success     200 {object} CompleteResponse
// @Failure     404 {object} ErrorResponse
// @Router      /sessions/{id}/report [get]
func (h *Handlers) GetReportLocation(c *gin.Context) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	path, present := s.ReportLocation()
	if !present {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no report has been generated for this session")
		return
	}
	ok(c, http.StatusOK, CompleteResponse{ReportPath: path})
}

// failFromEngine translates consultation-engine errors into HTTP responses
// with patient-safe messages. Phase violations are logged as warnings: they
// indicate a caller bug, not a user mistake.
func (h *Handlers) failFromEngine(c *gin.Context, err error) {
	var fieldErr *domain.FieldError
	switch {
	case errors.Is(err, services.ErrPatientNotFound):
		fail(c, http.StatusNotFound, ErrCodePatientNotFound,
			"we could not find a profile with that ID; you can create a new one")
	case errors.As(err, &fieldErr):
		fail(c, http.StatusBadRequest, ErrCodeInvalidField,
			"please check the "+fieldErr.Field+" value: "+fieldErr.Reason)
	case errors.Is(err, services.ErrInvalidSymptom):
		fail(c, http.StatusBadRequest, ErrCodeInvalidSymptom, "please describe the symptom")
	case errors.Is(err, session.ErrInvalidPhaseTransition):
		middleware.LoggerFrom(c).Warn().Err(err).Msg("phase transition rejected")
		fail(c, http.StatusConflict, ErrCodePhaseConflict, "that step is not available right now")
	case errors.Is(err, services.ErrIDGenerationExhausted):
		fail(c, http.StatusServiceUnavailable, ErrCodeIDExhausted,
			"we could not register the profile right now, please try again")
	case errors.Is(err, services.ErrReportPersistenceFailed):
		fail(c, http.StatusServiceUnavailable, ErrCodeReportFailed,
			"your report could not be saved yet; please try completing again")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
