package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"goflare.io/surge/internal/queue"
)

// Payment 排入支付隊列的請求內容
type Payment struct {
	UserID  string  `json:"userId"`
	EventID string  `json:"eventId"`
	Amount  float64 `json:"amount"`
}

type paymentAccepted struct {
	Status          string `json:"status"`
	TaskID          string `json:"taskId"`
	Message         string `json:"message"`
	EstimatedWaitMs int64  `json:"estimatedWaitMs"`
}

type paymentStatus struct {
	TaskID    string       `json:"taskId"`
	Status    queue.Status `json:"status"`
	UserID    string       `json:"userId,omitempty"`
	EventID   string       `json:"eventId,omitempty"`
	Amount    float64      `json:"amount"`
	Timestamp int64        `json:"timestamp"`
	Retries   int          `json:"retries"`
	Message   string       `json:"message"`
}

func statusMessage(s queue.Status) string {
	switch s {
	case queue.StatusPending:
		return "Waiting in queue..."
	case queue.StatusProcessing:
		return "Processing your payment..."
	case queue.StatusCompleted:
		return "Payment successful!"
	case queue.StatusFailed:
		return "Payment failed. Please try again."
	default:
		return "Unknown status"
	}
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var p Payment
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if p.UserID == "" || p.EventID == "" || p.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "Missing userId, eventId or amount")
		return
	}

	receipt, err := s.deps.Payments.Enqueue("", p)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			s.logger.Warn("Rejected payment", zap.Error(err))
			writeOverloaded(w)
			return
		}
		s.logger.Error("Failed to queue payment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to queue payment")
		return
	}

	writeJSON(w, http.StatusAccepted, paymentAccepted{
		Status:          receipt.Status,
		TaskID:          receipt.TaskID,
		Message:         "Payment queued. Processing... (check status with taskId)",
		EstimatedWaitMs: receipt.EstimatedWait.Milliseconds(),
	})
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("taskId")
	if id == "" {
		id = r.URL.Query().Get("taskId")
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing taskId parameter")
		return
	}

	task, err := s.deps.Payments.Status(id)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "Payment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read payment")
		return
	}

	resp := paymentStatus{
		TaskID:    task.ID,
		Status:    task.Status,
		Timestamp: task.EnqueuedAt.UnixMilli(),
		Retries:   task.Retries,
		Message:   statusMessage(task.Status),
	}
	if p, ok := task.Payload.(Payment); ok {
		resp.UserID = p.UserID
		resp.EventID = p.EventID
		resp.Amount = p.Amount
	}
	writeJSON(w, http.StatusOK, resp)
}
