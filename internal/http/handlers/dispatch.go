package handlers

import (
	"net/http"

	"courier-dispatch/internal/http/middleware/auth"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/service/offer"
)

// DispatchHandler serves the offer lifecycle endpoints.
type DispatchHandler struct {
	dispatcher dispatcher
	responder  responder
	reclaimer  reclaimer
	sweeper    sweeper
	logger     logx.Logger
}

// NewDispatchHandler creates a new DispatchHandler.
func NewDispatchHandler(logger logx.Logger, d dispatcher, resp responder, rec reclaimer, sw sweeper) *DispatchHandler {
	if logger == nil {
		logger = logx.Nop()
	}
	return &DispatchHandler{dispatcher: d, responder: resp, reclaimer: rec, sweeper: sw, logger: logger}
}

// Dispatch handles POST /deliveries/{id}/dispatch.
// @Summary Предложить доставку
// @Description Предлагает доставку следующему подходящему водителю
// @Tags offers
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse "delivery not found"
// @Failure 409 {object} ErrorResponse "delivery is not available for offering"
// @Failure 503 {object} ErrorResponse "temporarily unavailable"
// @Router /deliveries/{id}/dispatch [post]
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.dispatcher.Dispatch(r.Context(), idFromURL(r, "id"))
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, errText{
			notFound: "delivery not found",
			conflict: "delivery is not available for offering",
		})
		return
	}

	if res.Parked || res.Offer == nil {
		// свободных водителей нет, это не ошибка
		writeJSON(h.logger, w, r, http.StatusOK, dispatchParkedResponse{
			Parked:     true,
			Message:    "no available drivers",
			DeliveryID: res.DeliveryID,
		})
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, dispatchOfferedResponse{
		Offer:    offerToResponse(*res.Offer),
		DriverID: res.Offer.DriverID,
	})
}

// Respond handles POST /offers/{id}/respond.
// @Summary Ответить на предложение
// @Description Водитель принимает или отклоняет предложение
// @Tags offers
// @Accept json
// @Produce json
// @Param id path string true "Offer ID"
// @Param request body respondRequest true "accept or decline"
// @Success 200 {object} respondResponse
// @Failure 400 {object} ErrorResponse "invalid input"
// @Failure 404 {object} ErrorResponse "offer not found"
// @Failure 409 {object} ErrorResponse "offer is no longer pending"
// @Failure 410 {object} ErrorResponse "offer has expired"
// @Router /offers/{id}/respond [post]
func (h *DispatchHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	action, err := offer.ParseAction(req.Action)
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "action must be 'accept' or 'decline'")
		return
	}

	res, err := h.responder.Respond(r.Context(), idFromURL(r, "id"), action)
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, errText{
			notFound: "offer not found",
			conflict: "offer is no longer pending",
		})
		return
	}
	if res.Outcome == offer.OutcomeExpired {
		writeError(h.logger, w, r, http.StatusGone, "offer has expired")
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, respondResponse{
		Action:     string(res.Outcome),
		DeliveryID: res.DeliveryID,
	})
}

// Reclaim handles POST /deliveries/{id}/reclaim. The route sits behind
// auth.Required, so the caller is always known here.
func (h *DispatchHandler) Reclaim(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.CallerID(r.Context())
	if !ok {
		writeError(h.logger, w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req reclaimRequest
	if ok := decodeOptionalJSON(h.logger, w, r, &req); !ok {
		return
	}
	driverID := req.DriverID
	if driverID == "" {
		driverID = callerID
	}

	res, err := h.reclaimer.Reclaim(r.Context(), idFromURL(r, "id"), driverID, callerID)
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, errText{
			notFound:  "delivery not found",
			conflict:  "this delivery has already been taken",
			forbidden: "no previous declined offer",
		})
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, reclaimResponse{
		DeliveryID: res.DeliveryID,
		DriverID:   res.DriverID,
	})
}

// Sweep handles POST /offers/sweep.
func (h *DispatchHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.SweepExpiredOffers(r.Context())
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, errText{})
		return
	}

	msg := "expired offers processed"
	switch {
	case res.Skipped:
		msg = "sweep already running on another replica"
	case res.Processed == 0 && res.Repaired == 0 && res.Retried == 0:
		msg = "no expired offers"
	}
	writeJSON(h.logger, w, r, http.StatusOK, sweepResponse{
		Message:        msg,
		ProcessedCount: res.Processed,
		ReofferedCount: res.Reoffered,
		RepairedCount:  res.Repaired,
		RetriedCount:   res.Retried,
		Skipped:        res.Skipped,
	})
}
