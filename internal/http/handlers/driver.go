package handlers

import (
	"net/http"

	"courier-dispatch/internal/logx"
)

// DriverHandler serves HTTP endpoints for driver resources.
type DriverHandler struct {
	uc     driverUsecase
	logger logx.Logger
}

// NewDriverHandler wires a driverUsecase into HTTP handlers.
func NewDriverHandler(logger logx.Logger, uc driverUsecase) *DriverHandler {
	if logger == nil {
		logger = logx.Nop()
	}
	return &DriverHandler{uc: uc, logger: logger}
}

var driverErrText = errText{notFound: "driver not found"}

// GetByID handles GET /drivers/{id}.
func (h *DriverHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	d, err := h.uc.Get(r.Context(), idFromURL(r, "id"))
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, driverErrText)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, driverToResponse(*d))
}

// List handles GET /drivers.
func (h *DriverHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.uc.List(r.Context(), limit, offset)
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, driverErrText)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, driversToResponse(list))
}

// Create handles POST /drivers.
func (h *DriverHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDriverRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}

	id, err := h.uc.Create(r.Context(), req.toModel())
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, driverErrText)
		return
	}
	w.Header().Set("Location", "/drivers/"+id)
	writeJSON(h.logger, w, r, http.StatusCreated, map[string]any{"id": id})
}

// Update handles PATCH /drivers/{id} with partial updates from the request body.
func (h *DriverHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateDriverRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}

	_, err := h.uc.UpdatePartial(r.Context(), req.toModel(idFromURL(r, "id")))
	if err != nil {
		writeUsecaseError(h.logger, w, r, err, driverErrText)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, map[string]string{"status": "ok"})
}
