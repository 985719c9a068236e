package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/logger"
)

const maxBodySize = 8 << 20

// Applier is satisfied by *indexer.Engine.
type Applier interface {
	Apply(ctx context.Context, ev indexer.Event) (indexer.Result, error)
}

// RejectedRow reports one payload element the indexer refused.
type RejectedRow struct {
	Index  int    `json:"index"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

type WebhookHandler struct {
	applier    Applier
	decoder    Decoder
	deadLetter *DeadLetter
}

func NewWebhookHandler(applier Applier, decoder Decoder, dl *DeadLetter) *WebhookHandler {
	return &WebhookHandler{
		applier:    applier,
		decoder:    decoder,
		deadLetter: dl,
	}
}

// ServeHTTP applies every row of a webhook envelope in order. Rejected rows
// do not stop the batch; they are reported with 400 after the valid rows
// were applied. Any other failure answers 5xx so the changefeed redelivers
// the whole batch.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx).With("component", "cdc-webhook")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	rows, err := DecodeEnvelope(body)
	if err != nil {
		h.deadLetter.Send(ctx, "webhook", "", body, err)
		writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}

	rejected := make([]RejectedRow, 0)
	applied := 0
	for i, raw := range rows {
		ev, err := h.decoder.DecodeRow(raw)
		if err == nil {
			_, err = h.applier.Apply(ctx, ev)
		}
		switch {
		case err == nil:
			applied++
		case errors.Is(err, apperrors.ErrRejectedEvent), errors.Is(err, apperrors.ErrInvalidInput):
			rejected = append(rejected, RejectedRow{Index: i, Key: ev.ID, Reason: err.Error()})
			h.deadLetter.Send(ctx, "webhook", ev.ID, raw, err)
		default:
			log.Error("applying changefeed row failed", "index", i, "event", describe(ev), "error", err)
			writeError(w, apperrors.HTTPStatusCode(err), "applying changefeed rows failed")
			return
		}
	}

	log.Debug("changefeed batch applied", "rows", len(rows), "applied", applied, "rejected", len(rejected))
	if len(rejected) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"applied":  applied,
			"rejected": rejected,
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
