package bridge

import (
	"errors"
	"net/http"

	"github.com/polisai/polis-rest/pkg/domain"
)

// Response bodies returned to REST callers.
const (
	BodyOK       = "Ok"
	BodyRejected = "Error: REST request is rejected by service."
	BodyError    = "Error"
	BodyDefault  = "Try POSTing a stanza."
)

// Outcome is the HTTP response produced by a pipeline. Reason is a short label for logs
// and metrics and is never sent to the caller.
type Outcome struct {
	Status int
	Body   string
	Reason string
}

// Write sends the outcome as a plain-text response.
func (o Outcome) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(o.Status)
	_, _ = w.Write([]byte(o.Body))
}

func okOutcome() Outcome {
	return Outcome{Status: http.StatusOK, Body: BodyOK, Reason: "routed"}
}

func rejectedOutcome(reason string) Outcome {
	return Outcome{Status: http.StatusNotAcceptable, Body: BodyRejected, Reason: reason}
}

func defaultOutcome() Outcome {
	return Outcome{Status: http.StatusOK, Body: BodyDefault, Reason: "default"}
}

func internalErrorOutcome() Outcome {
	return Outcome{Status: http.StatusInternalServerError, Body: BodyError, Reason: "internal"}
}

// errorOutcome maps a pipeline error onto the response taxonomy.
func errorOutcome(err error) Outcome {
	var (
		denied    *domain.AccessDeniedError
		parseErr  *domain.ParseError
		decodeErr *domain.DecodeError
		configErr *domain.ConfigurationError
	)
	switch {
	case errors.As(err, &configErr):
		return Outcome{Status: http.StatusInternalServerError, Body: "Error: " + configErr.Error(), Reason: "configuration"}
	case errors.As(err, &denied):
		return rejectedOutcome(denied.Check)
	case errors.As(err, &parseErr):
		return rejectedOutcome("malformed")
	case errors.As(err, &decodeErr):
		return Outcome{Status: http.StatusInternalServerError, Body: "Error: " + decodeErr.Reason, Reason: "decode"}
	default:
		return internalErrorOutcome()
	}
}
