package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	bserr "bitespeed/pkg/errors"
)

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// ErrorWriter renders errors as ErrorResponse, hiding server-side details in
// production.
type ErrorWriter struct {
	logger     logrus.FieldLogger
	production bool
}

func NewErrorWriter(logger logrus.FieldLogger, production bool) *ErrorWriter {
	return &ErrorWriter{logger: logger, production: production}
}

func (e *ErrorWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	status := bserr.HTTPStatus(err)
	message := err.Error()
	title := http.StatusText(status)

	switch {
	case status == http.StatusBadRequest:
		title = "Validation Error"
	case status >= http.StatusInternalServerError:
		e.logger.WithError(err).WithFields(logrus.Fields(bserr.FieldsOf(err))).WithFields(logrus.Fields{
			"code":      bserr.CodeOf(err),
			"method":    r.Method,
			"path":      r.URL.Path,
			"requestId": RequestIDFrom(r.Context()),
		}).Error("request failed")
		if e.production {
			message = "Something went wrong"
		}
	}

	writeJSON(w, status, ErrorResponse{
		Error:      title,
		Message:    message,
		StatusCode: status,
	})
}
