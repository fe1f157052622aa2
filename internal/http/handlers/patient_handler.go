// Patient lookup HTTP handlers.
//
// Exposes read-only access to durable patient profiles:
//   - GET /patients/{id}
//
// Profiles are created through the session flow, never directly through
// this surface; the endpoint exists for operator tooling and for clients
// that want to confirm a returning patient's details before starting a
// consultation.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-intake-backend/internal/domain"
	"github.com/tbourn/go-intake-backend/internal/services"
)

// PatientDirectory is the read-side patient contract consumed by the HTTP
// layer. *services.IdentityService satisfies it.
type PatientDirectory interface {
	Lookup(ctx *gin.Context, id string) (*domain.Patient, error)
}

// identityLookup adapts services.IdentityService's context-based Lookup to
// the gin-flavored PatientDirectory contract.
type identityLookup struct {
	svc *services.IdentityService
}

// NewPatientDirectory wraps an IdentityService for use by the HTTP layer.
func NewPatientDirectory(svc *services.IdentityService) PatientDirectory {
	return &identityLookup{svc: svc}
}

func (l *identityLookup) Lookup(c *gin.Context, id string) (*domain.Patient, error) {
	return l.svc.Lookup(c.Request.Context(), id)
}

// GetPatient godoc
// @Summary     Look up a patient profile by ID
// @Tags        patients
// @Produce     json
// @Param       id path string true "patient ID" example(P12345678)
// @Success     200 {object} domain.Patient
// @Failure     404 {object} ErrorResponse
// @Router      /patients/{id} [get]
func (h *Handlers) GetPatient(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	p, err := h.patients.Lookup(c, id)
	if err != nil {
		if errors.Is(err, services.ErrPatientNotFound) {
			fail(c, http.StatusNotFound, ErrCodePatientNotFound, "no profile exists with that ID")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}
	ok(c, http.StatusOK, p)
}
