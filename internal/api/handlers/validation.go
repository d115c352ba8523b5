package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/carecontext/internal/domain"
)

var ownerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

var errInvalidBody = errors.New("invalid request body")

// ownerIDParam returns the {ownerID} path parameter if it is well formed.
func ownerIDParam(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "ownerID")
	return id, ownerIDPattern.MatchString(id)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errInvalidBody
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

// parseDate accepts an empty string (meaning today) or YYYY-MM-DD.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(domain.DateLayout, s)
}

func parseDocType(s string) (domain.DocType, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParseDocType(s)
}
