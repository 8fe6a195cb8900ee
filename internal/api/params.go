package api

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// dateLayout is the format of the from/to query parameters.
const dateLayout = "2006-01-02"

// pagination is the page envelope returned by list endpoints.
type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// listResponse wraps one page of records.
type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

// intParam reads a non-negative integer query parameter, returning def
// when it is absent.
func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// dateRange parses the from/to parameters as UTC calendar days. The
// returned upper bound is exclusive, so to=2026-03-10 includes that whole
// day. Absent parameters leave the corresponding bound zero.
func dateRange(q url.Values) (from, to time.Time, err error) {
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(dateLayout, raw); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from must be YYYY-MM-DD")
		}
	}
	if raw := q.Get("to"); raw != "" {
		day, perr := time.Parse(dateLayout, raw)
		if perr != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to must be YYYY-MM-DD")
		}
		to = day.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must not be after to")
	}
	return from, to, nil
}

// pageParams reads limit and offset.
func pageParams(q url.Values, defLimit int) (limit, offset int, err error) {
	if limit, err = intParam(q, "limit", defLimit); err != nil {
		return 0, 0, err
	}
	if offset, err = intParam(q, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
