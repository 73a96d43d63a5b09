package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/worker"
)

// Consumer is the lifecycle of the notification consumer pool.
type Consumer interface {
	Start(ctx context.Context) error
	Status() worker.Status
}

// ConsumerHandler starts the background consumer and reports its state.
// The pool runs under base, the process context, never under a request's.
type ConsumerHandler struct {
	base     context.Context
	consumer Consumer
	logger   *zap.Logger
}

func NewConsumerHandler(base context.Context, consumer Consumer, logger *zap.Logger) *ConsumerHandler {
	return &ConsumerHandler{base: base, consumer: consumer, logger: logger}
}

// Start handles POST /consume_notification_queue.
// 202 when this call started the consumer, 200 when it was already running.
//
// @Summary  Start the notification consumer
// @Tags     consumer
// @Produce  json
// @Success  202  {object}  map[string]string
// @Success  200  {object}  map[string]string  "Already running"
// @Failure  503  {object}  map[string]string
// @Router   /consume_notification_queue [post]
func (h *ConsumerHandler) Start(w http.ResponseWriter, r *http.Request) {
	err := h.consumer.Start(h.base)
	switch {
	case err == nil:
		respondMessage(w, http.StatusAccepted, "notification consumer started")
	case errors.Is(err, worker.ErrAlreadyRunning):
		respondMessage(w, http.StatusOK, err.Error())
	default:
		h.logger.Error("start consumer failed", zap.Error(err))
		mapError(w, err)
	}
}

// Status handles GET /consumer/status
//
// @Summary  Consumer pool state and counters
// @Tags     consumer
// @Produce  json
// @Success  200  {object}  worker.Status
// @Router   /consumer/status [get]
func (h *ConsumerHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.consumer.Status())
}
