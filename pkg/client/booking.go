package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"slotkeeper/pkg/model"
)

const bookingsPath = "/api/v1/bookings"

type BookingClient struct {
	httpClient *HttpClient
}

func NewBookingClient(baseURL, token string) *BookingClient {
	return &BookingClient{
		httpClient: NewHttpClient(baseURL, token),
	}
}

func (c *BookingClient) HTTP() *HttpClient {
	return c.httpClient
}

type CreateBookingBody struct {
	ResourceID string `json:"resource_id"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
}

func NewCreateBookingBody(resourceID string, start, end time.Time) CreateBookingBody {
	return CreateBookingBody{
		ResourceID: resourceID,
		StartAt:    start.UTC().Format(time.RFC3339Nano),
		EndAt:      end.UTC().Format(time.RFC3339Nano),
	}
}

type ListParams struct {
	ResourceID string
	DateFrom   *time.Time
	DateTo     *time.Time
	Status     string
	Page       int
	PageSize   int
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	if p.ResourceID != "" {
		q.Set("resource", p.ResourceID)
	}
	if p.DateFrom != nil {
		q.Set("date_from", p.DateFrom.UTC().Format(time.RFC3339Nano))
	}
	if p.DateTo != nil {
		q.Set("date_to", p.DateTo.UTC().Format(time.RFC3339Nano))
	}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	return q
}

type BookingPage struct {
	Data       []*model.Booking `json:"data"`
	Count      int64            `json:"count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// Create posts a booking. A non-empty idempotencyKey is sent as the
// Idempotency-Key header.
func (c *BookingClient) Create(ctx context.Context, body CreateBookingBody, idempotencyKey string) (*model.Booking, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	resp, err := c.httpClient.POST(ctx, bookingsPath, body, headers)
	if err != nil {
		return nil, err
	}
	return decodeBooking(resp)
}

func (c *BookingClient) List(ctx context.Context, params ListParams) (*BookingPage, error) {
	path := bookingsPath
	if q := params.query(); len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := c.httpClient.GET(ctx, path)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, AsAPIError(resp)
	}

	var page BookingPage
	if err := resp.DecodeJSON(&page); err != nil {
		return nil, fmt.Errorf("could not decode booking page: %w", err)
	}
	return &page, nil
}

func (c *BookingClient) Get(ctx context.Context, id string) (*model.Booking, error) {
	resp, err := c.httpClient.GET(ctx, bookingsPath+"/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return decodeBooking(resp)
}

func (c *BookingClient) Cancel(ctx context.Context, id string) (*model.Booking, error) {
	resp, err := c.httpClient.PATCH(ctx, bookingsPath+"/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return nil, err
	}
	return decodeBooking(resp)
}

func decodeBooking(resp *Response) (*model.Booking, error) {
	if !resp.OK() {
		return nil, AsAPIError(resp)
	}

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := resp.DecodeJSON(&wrapper); err != nil {
		return nil, fmt.Errorf("could not decode booking wrapper: %w", err)
	}

	var booking model.Booking
	if err := json.Unmarshal(wrapper.Data, &booking); err != nil {
		return nil, fmt.Errorf("could not decode booking json: %w", err)
	}
	return &booking, nil
}
