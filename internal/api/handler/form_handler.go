package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/form"
)

// FormHandler serves the purchase form page.
type FormHandler struct {
	src    form.Source
	logger *zap.Logger
}

func NewFormHandler(src form.Source, logger *zap.Logger) *FormHandler {
	return &FormHandler{src: src, logger: logger}
}

// Form handles GET /api/
func (h *FormHandler) Form(w http.ResponseWriter, r *http.Request) {
	page, err := h.src.Form(r.Context())
	if err != nil {
		h.logger.Warn("fetch purchase form failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondText(w, http.StatusOK, "text/html; charset=utf-8", string(page))
}
