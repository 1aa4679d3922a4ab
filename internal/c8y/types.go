package c8y

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// StateActive is the EPL application state used for uploads.
const StateActive = "active"

// Endpoint carries the tenant address and basic-auth credentials for one call.
type Endpoint struct {
	BaseURL  string
	User     string
	Password string
}

// Request names a collection resource and the JSON array field holding its records.
type Request struct {
	Path  string
	Query url.Values
	Field string
}

// EPLFile is the body of POST service/cep/eplfiles.
type EPLFile struct {
	Name        string `json:"name"`
	Contents    string `json:"contents"`
	State       string `json:"state"`
	Description string `json:"description"`
}

// TransportError reports a network, HTTP or response-shape failure.
type TransportError struct {
	Op     string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s %s: status %d %s: %s", e.Op, e.URL, e.Status, http.StatusText(e.Status), e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: status %d %s", e.Op, e.URL, e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: transport failure", e.Op, e.URL)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Unauthorized reports whether the platform rejected the credentials.
func (e *TransportError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
