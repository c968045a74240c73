package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"bitespeed/internal/models"
	bserr "bitespeed/pkg/errors"
)

//go:generate mockgen -source=identify.go -destination=mocks/identifier.go -package=mocks Identifier

// Identifier is the reconciliation entry point the handler drives.
type Identifier interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error)
}

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	service  Identifier
	validate *validator.Validate
	errors   *ErrorWriter
	logger   logrus.FieldLogger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(service Identifier, errs *ErrorWriter, logger logrus.FieldLogger) *IdentifyHandler {
	return &IdentifyHandler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		errors:   errs,
		logger:   logger,
	}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req models.IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Debug("error decoding request")
		h.errors.Write(w, r, bserr.New(bserr.CodeServerRequestInvalid, "Invalid JSON"))
		return
	}

	if err := h.validateRequest(req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	email, phone := req.Normalized()
	h.logger.WithFields(logrus.Fields{
		"email":       stringValue(email),
		"phoneNumber": stringValue(phone),
		"requestId":   RequestIDFrom(r.Context()),
	}).Info("POST /identify called")

	response, err := h.service.Identify(r.Context(), req)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// validateRequest checks the format of any email that was sent, including an
// empty one, and that at least one of email or phoneNumber carries a value.
// Every failed rule is reported, joined by ", ".
func (h *IdentifyHandler) validateRequest(req models.IdentifyRequest) error {
	var problems []string
	if req.Email != nil {
		if err := h.validate.Var(*req.Email, "required,email"); err != nil {
			problems = append(problems, "Invalid email format")
		}
	}
	if email, phone := req.Normalized(); email == nil && phone == nil {
		problems = append(problems, "At least one of email or phoneNumber must be provided")
	}
	if len(problems) > 0 {
		return bserr.New(bserr.CodeServerRequestInvalid, strings.Join(problems, ", "))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
