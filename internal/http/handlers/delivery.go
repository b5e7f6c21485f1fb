package handlers

import (
	"net/http"

	"courier-dispatch/internal/logx"
)

// DeliveryHandler handles HTTP requests for delivery resources.
type DeliveryHandler struct {
	usecase deliveryUsecase
	logger  logx.Logger
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(logger logx.Logger, uc deliveryUsecase) *DeliveryHandler {
	if logger == nil {
		logger = logx.Nop()
	}
	return &DeliveryHandler{usecase: uc, logger: logger}
}

var deliveryErrText = errText{
	notFound: "delivery not found",
	conflict: "delivery is not in a state that allows this",
}

// Get handles GET /deliveries/{id}.
// @Summary Получить доставку
// @Tags deliveries
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {object} deliveryDTO
// @Failure 400 {object} ErrorResponse "invalid id"
// @Failure 404 {object} ErrorResponse "delivery not found"
// @Router /deliveries/{id} [get]
func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.usecase.Get(r.Context(), idFromURL(r, "id"))
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, deliveryErrText)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, deliveryToResponse(*d))
}

// History handles GET /deliveries/{id}/offers.
// @Summary История предложений
// @Description Все предложения по доставке, от старых к новым
// @Tags deliveries
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {array} offerDTO
// @Failure 404 {object} ErrorResponse "delivery not found"
// @Router /deliveries/{id}/offers [get]
func (h *DeliveryHandler) History(w http.ResponseWriter, r *http.Request) {
	list, err := h.usecase.History(r.Context(), idFromURL(r, "id"))
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, deliveryErrText)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, offersToResponse(list))
}

// Complete handles POST /deliveries/{id}/complete.
func (h *DeliveryHandler) Complete(w http.ResponseWriter, r *http.Request) {
	d, err := h.usecase.Complete(r.Context(), idFromURL(r, "id"))
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, errText{
			notFound: "delivery not found",
			conflict: "delivery is not assigned",
		})
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, deliveryToResponse(*d))
}

// Cancel handles POST /deliveries/{id}/cancel.
func (h *DeliveryHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	d, err := h.usecase.Cancel(r.Context(), idFromURL(r, "id"))
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, errText{
			notFound: "delivery not found",
			conflict: "delivery is already finished",
		})
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, deliveryToResponse(*d))
}
