package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Filters captures the parsed query parameters shared by the read
// endpoints. Not every endpoint uses every field; handlers enforce their
// own requirements (segments and windows need a VODID).
type Filters struct {
	VODID             string
	Limit             int
	IncludeSuperseded bool
	CandidatesOnly    bool
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{Limit: defaultLimit}

	f.VODID = values.Get("vod_id")

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	var err error
	if f.IncludeSuperseded, err = parseBoolParam(values, "include_superseded"); err != nil {
		return Filters{}, err
	}
	if f.CandidatesOnly, err = parseBoolParam(values, "candidates_only"); err != nil {
		return Filters{}, err
	}
	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func parseBoolParam(values url.Values, key string) (bool, error) {
	raw := values.Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(key + " must be a boolean")
	}
	return v, nil
}
