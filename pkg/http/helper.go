package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotkeeper/pkg/config"
	apperrors "slotkeeper/pkg/errors"
)

const (
	MsgPageNotInteger  = "page and page_size must be integers"
	MsgPageTooSmall    = "page must be >= 1"
	MsgPageSizeRange   = "page_size must be between 1 and 50"
	MsgPageOutOfRange  = "page is out of range"
	MsgInvalidDateTime = "Invalid datetime format"
	MsgInvalidBody     = "Invalid request body"
	dateTimeFormatHint = "Use ISO format, e.g. 2026-02-09T10:00:00Z"
	defaultPage        = 1
)

type Page struct {
	Page     int
	PageSize int
}

func (p Page) Limit() int { return p.PageSize }

func (p Page) Offset() int64 { return int64(p.Page-1) * int64(p.PageSize) }

// ParsePage reads page and page_size without range checks. Use Validate once
// the other query parameters have been accepted.
func ParsePage(r *http.Request) (Page, error) {
	query := r.URL.Query()
	p := Page{Page: defaultPage, PageSize: config.DefaultPageSize}

	if s := query.Get("page"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return Page{}, apperrors.Validation(MsgPageNotInteger, nil)
		}
		p.Page = v
	}
	if s := query.Get("page_size"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return Page{}, apperrors.Validation(MsgPageNotInteger, nil)
		}
		p.PageSize = v
	}
	return p, nil
}

func (p Page) Validate() error {
	if p.Page < 1 {
		return apperrors.Validation(MsgPageTooSmall, nil)
	}
	if p.PageSize < 1 || p.PageSize > config.MaxPageSize {
		return apperrors.Validation(MsgPageSizeRange, nil)
	}
	// Offset must fit in an int64.
	if int64(p.Page-1) > math.MaxInt64/int64(p.PageSize) {
		return apperrors.Validation(MsgPageOutOfRange, map[string]any{"page": p.Page})
	}
	return nil
}

func TotalPages(count int64, pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	return int((count + int64(pageSize) - 1) / int64(pageSize))
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseDateTime accepts ISO 8601 date-times. Values without an offset are
// taken as UTC. An empty value yields nil.
func ParseDateTime(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apperrors.Validation(MsgInvalidDateTime, map[string]any{field: dateTimeFormatHint})
}

// DecodeJSON decodes one JSON document from the request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.PayloadTooLarge(maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return apperrors.Validation(MsgInvalidBody, map[string]any{"body": "request body is empty"})
		}
		return apperrors.Validation(MsgInvalidBody, map[string]any{"body": err.Error()})
	}
	return nil
}
