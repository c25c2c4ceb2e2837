package handler

import (
	"net/http"

	"slotkeeper/internal/bookings/service"
	"slotkeeper/pkg/auth"
	apperrors "slotkeeper/pkg/errors"
	httputil "slotkeeper/pkg/http"
	"slotkeeper/pkg/logger"
	"slotkeeper/pkg/model"

	"github.com/julienschmidt/httprouter"
)

const (
	bookingsPath = "/api/v1/bookings"
	bookingPath  = bookingsPath + "/:id"
	cancelPath   = bookingPath + "/cancel"
)

type BookingHandler struct {
	service service.BookingService
	log     *logger.Logger
}

func NewBookingHandler(service service.BookingService, log *logger.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		log:     log,
	}
}

func (h *BookingHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST(bookingsPath, h.Create)
	router.GET(bookingsPath, h.List)
	router.GET(bookingPath, h.GetByID)
	router.PATCH(cancelPath, h.Cancel)
}

// createBookingBody keeps datetimes as strings so parse failures can name the
// offending field.
type createBookingBody struct {
	ResourceID string `json:"resource_id"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
}

func (b createBookingBody) toRequest() (*model.CreateBookingRequest, error) {
	start, err := httputil.ParseDateTime("start_at", b.StartAt)
	if err != nil {
		return nil, err
	}
	end, err := httputil.ParseDateTime("end_at", b.EndAt)
	if err != nil {
		return nil, err
	}
	return &model.CreateBookingRequest{ResourceID: b.ResourceID, StartAt: start, EndAt: end}, nil
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, "Create", apperrors.Auth(auth.MsgMissingCredentials))
		return
	}

	var body createBookingBody
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.writeError(w, "Create", err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	booking, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, booking); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		h.writeError(w, "List", err)
		return
	}

	query := r.URL.Query()
	dateFrom, err := httputil.ParseDateTime("date_from", query.Get("date_from"))
	if err != nil {
		h.writeError(w, "List", err)
		return
	}
	dateTo, err := httputil.ParseDateTime("date_to", query.Get("date_to"))
	if err != nil {
		h.writeError(w, "List", err)
		return
	}

	if err := page.Validate(); err != nil {
		h.writeError(w, "List", err)
		return
	}

	bookings, total, err := h.service.List(r.Context(), &model.BookingQuery{
		ResourceID: query.Get("resource"),
		DateFrom:   dateFrom,
		DateTo:     dateTo,
		Status:     query.Get("status"),
	}, page.Limit(), page.Offset())
	if err != nil {
		h.writeError(w, "List", err)
		return
	}

	if err := httputil.WritePaginated(w, bookings, total, page); err != nil {
		h.log.Error("failed to write paginated response", "handler", "List", "operation", "WritePaginated", "error", err)
	}
}

func (h *BookingHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	booking, err := h.service.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, "Cancel", apperrors.Auth(auth.MsgMissingCredentials))
		return
	}

	booking, err := h.service.Cancel(r.Context(), caller, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "Cancel", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}
