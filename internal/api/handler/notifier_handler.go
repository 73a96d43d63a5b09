package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/purchase-notify/internal/api/middleware"
	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/provider"
)

// Notifier is the subset of notify.Notifier used by the HTTP layer.
type Notifier interface {
	SendEmail(ctx context.Context, to, message string) (*provider.Receipt, error)
	SendSMS(ctx context.Context, name, product, phone string) (*provider.Receipt, error)
	CallCustomer(ctx context.Context, name, product, phone string) (*provider.Receipt, error)
	AnswerCall() (string, error)
}

// NotifierHandler exposes the synchronous channel operations.
type NotifierHandler struct {
	n      Notifier
	logger *zap.Logger
}

func NewNotifierHandler(n Notifier, logger *zap.Logger) *NotifierHandler {
	return &NotifierHandler{n: n, logger: logger}
}

type emailRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

type customerRequest struct {
	Name    string `json:"name"`
	Product string `json:"product"`
	Phone   string `json:"phone"`
}

func (c customerRequest) validate() error {
	if strings.TrimSpace(c.Phone) == "" {
		return domain.ErrInvalidPhone
	}
	if strings.TrimSpace(c.Name) == "" {
		return domain.ErrInvalidName
	}
	return nil
}

// Email handles POST /email
//
// @Summary  Send an email right away
// @Tags     notifier
// @Accept   json
// @Produce  json
// @Param    body  body      emailRequest  true  "Recipient and message"
// @Success  200   {object}  map[string]string
// @Failure  400   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Failure  502   {object}  map[string]string
// @Router   /email [post]
func (h *NotifierHandler) Email(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusUnprocessableEntity, "email and message are required")
		return
	}
	if err := domain.CheckEmail(req.Email); err != nil {
		mapError(w, err)
		return
	}

	if _, err := h.n.SendEmail(r.Context(), req.Email, req.Message); err != nil {
		h.fail(w, r, "send email failed", err)
		return
	}
	respondMessage(w, http.StatusOK, "Email sent successfully")
}

// SMS handles POST /api/sms and answers with the provider message sid.
//
// @Summary  Text an order confirmation
// @Tags     notifier
// @Accept   json
// @Produce  plain
// @Param    body  body      customerRequest  true  "Customer and product"
// @Success  200   {string}  string           "Message sid"
// @Failure  422   {object}  map[string]string
// @Failure  502   {object}  map[string]string
// @Router   /api/sms [post]
func (h *NotifierHandler) SMS(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		mapError(w, err)
		return
	}

	receipt, err := h.n.SendSMS(r.Context(), req.Name, req.Product, req.Phone)
	if err != nil {
		h.fail(w, r, "send sms failed", err)
		return
	}
	respondText(w, http.StatusOK, "text/plain; charset=utf-8", receipt.ID)
}

// CallCustomer handles POST /api/call_customer and answers with the call sid.
//
// @Summary  Call the customer and play the order script
// @Tags     notifier
// @Accept   json
// @Produce  plain
// @Param    body  body      customerRequest  true  "Customer and product"
// @Success  200   {string}  string           "Call sid"
// @Failure  422   {object}  map[string]string
// @Failure  502   {object}  map[string]string
// @Router   /api/call_customer [post]
func (h *NotifierHandler) CallCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		mapError(w, err)
		return
	}

	receipt, err := h.n.CallCustomer(r.Context(), req.Name, req.Product, req.Phone)
	if err != nil {
		h.fail(w, r, "outbound call failed", err)
		return
	}
	respondText(w, http.StatusOK, "text/plain; charset=utf-8", receipt.ID)
}

// AnswerCall handles GET /answer_call with the TwiML for inbound callers.
//
// @Summary  TwiML for inbound calls
// @Tags     notifier
// @Produce  xml
// @Success  200  {string}  string  "TwiML document"
// @Router   /answer_call [get]
func (h *NotifierHandler) AnswerCall(w http.ResponseWriter, r *http.Request) {
	doc, err := h.n.AnswerCall()
	if err != nil {
		h.fail(w, r, "render answer twiml failed", err)
		return
	}
	respondText(w, http.StatusOK, "application/xml", doc)
}

func (h *NotifierHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Warn(msg,
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.Error(err),
	)
	mapError(w, err)
}
