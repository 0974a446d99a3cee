// Package dashboard event handling: the Handler turns engine events into
// dashboard messages.
package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/engine"
)

// Handler bridges the sync engine's event sink and the WebSocket server.
// It implements engine.EventSink; all methods are non-blocking because
// Server.Broadcast drops on a full channel.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// PhaseStarted implements engine.EventSink.
func (h *Handler) PhaseStarted(phase engine.Phase) {
	h.send(MessageTypePhaseStarted, PhaseStartedData{Phase: string(phase)})
}

// PhaseFinished implements engine.EventSink.
func (h *Handler) PhaseFinished(result *engine.PhaseResult) {
	h.send(MessageTypePhaseFinished, result)
}

// RunFinished implements engine.EventSink.
func (h *Handler) RunFinished(summary *engine.Summary) {
	h.mu.Lock()
	h.stats.Runs++
	if !summary.OK {
		h.stats.Failures++
	}
	h.stats.LastOK = summary.OK
	h.stats.LastFinished = summary.Finished
	h.stats.TotalWrites += summary.Governor.Writes
	stats := h.stats
	h.mu.Unlock()

	h.send(MessageTypeRunFinished, summary)
	h.send(MessageTypeStats, stats)
}

// LinesChanged implements engine.EventSink.
func (h *Handler) LinesChanged(orderID string, changes []engine.LineChange) {
	data := LineChangeData{OrderID: orderID}
	for _, c := range changes {
		data.Changes = append(data.Changes, ChangeItem{
			Article:        c.Article,
			Kind:           string(c.Kind),
			QuantityBefore: c.QuantityBefore,
			QuantityAfter:  c.QuantityAfter,
		})
	}
	h.send(MessageTypeLineChange, data)
}

// GetStats returns the cumulative run statistics.
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) send(typ MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s message: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	})
}
