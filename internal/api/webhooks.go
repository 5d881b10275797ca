package api

import (
	"errors"
	"log/slog"
	"net/http"

	"streamhook/internal/ingestion"
	"streamhook/internal/observability/logging"
	"streamhook/internal/webhook"
)

// Webhook outcomes recorded in metrics.
const (
	outcomeApplied          = "applied"
	outcomeStale            = "stale"
	outcomeHandshake        = "handshake"
	outcomeRevoked          = "revoked"
	outcomeRejected         = "rejected"
	outcomeUnavailable      = "verification_unavailable"
	outcomeBadHandshake     = "bad_handshake"
	outcomeInvalidPayload   = "invalid_payload"
	outcomeUnsupported      = "unsupported"
	outcomeStreamerNotFound = "streamer_not_found"
	outcomeTooLarge         = "too_large"
	outcomeError            = "error"
)

type kickResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TwitchWebhook serves EventSub subscription handshakes and notifications.
func (h *Handler) TwitchWebhook(w http.ResponseWriter, r *http.Request) {
	provider := h.Twitch
	service := string(provider.Service())
	ctx := logging.ContextWithProvider(r.Context(), service)
	logger := h.logger(ctx)
	observe := func(outcome string) { h.metrics().ObserveWebhook(service, outcome) }

	if r.Method == http.MethodGet {
		handshake, err := provider.Handshake(r, nil)
		if err != nil || handshake == nil {
			observe(outcomeBadHandshake)
			logger.Warn("rejected subscription handshake", "error", err)
			writeError(w, http.StatusBadRequest, errors.New("invalid subscription handshake"))
			return
		}
		observe(outcomeHandshake)
		writeText(w, http.StatusOK, handshake.Challenge)
		return
	}

	raw, err := readBody(w, r)
	if err != nil {
		h.bodyError(w, logger, service, err)
		return
	}

	if err := provider.Verify(ctx, raw, r.Header); err != nil {
		if errors.Is(err, webhook.ErrVerificationUnavailable) {
			observe(outcomeUnavailable)
			logger.Error("signature verification unavailable", "error", err)
			writeError(w, http.StatusServiceUnavailable, errors.New("signature verification unavailable"))
			return
		}
		observe(outcomeRejected)
		logger.Warn("rejected webhook signature", "error", err)
		writeError(w, http.StatusForbidden, errors.New("invalid signature"))
		return
	}

	handshake, err := provider.Handshake(r, raw)
	if err != nil {
		observe(outcomeBadHandshake)
		logger.Warn("rejected callback verification", "error", err)
		writeError(w, http.StatusBadRequest, errors.New("invalid callback verification"))
		return
	}
	if handshake != nil {
		switch handshake.Kind {
		case webhook.HandshakeRevocation:
			observe(outcomeRevoked)
			logger.Warn("subscription revoked", "status", handshake.Status, "subscription_type", handshake.SubscriptionType)
			w.WriteHeader(http.StatusNoContent)
		default:
			observe(outcomeHandshake)
			logger.Info("callback verified", "subscription_type", handshake.SubscriptionType)
			writeText(w, http.StatusOK, handshake.Challenge)
		}
		return
	}

	event, err := provider.Normalize(raw, r.Header)
	if err != nil {
		if errors.Is(err, webhook.ErrUnsupportedEvent) {
			observe(outcomeUnsupported)
			logger.Debug("ignored unsupported event", "error", err)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		observe(outcomeInvalidPayload)
		logger.Warn("invalid webhook payload", "error", err)
		writeError(w, http.StatusBadRequest, errors.New("invalid payload"))
		return
	}

	outcome, err := h.Processor.Apply(ctx, event)
	switch {
	case errors.Is(err, ingestion.ErrStreamerNotFound):
		observe(outcomeStreamerNotFound)
		logger.Info("no streamer for webhook", "username", event.Username)
		w.WriteHeader(http.StatusNoContent)
	case err != nil:
		observe(outcomeError)
		logger.Error("failed to apply live status event", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to apply event"))
	default:
		observe(appliedOutcome(outcome))
		w.WriteHeader(http.StatusNoContent)
	}
}

// KickWebhook serves Kick livestream status events.
func (h *Handler) KickWebhook(w http.ResponseWriter, r *http.Request) {
	provider := h.Kick
	service := string(provider.Service())
	ctx := logging.ContextWithProvider(r.Context(), service)
	logger := h.logger(ctx)
	observe := func(outcome string) { h.metrics().ObserveWebhook(service, outcome) }

	raw, err := readBody(w, r)
	if err != nil {
		h.bodyError(w, logger, service, err)
		return
	}

	if err := provider.Verify(ctx, raw, r.Header); err != nil {
		if errors.Is(err, webhook.ErrVerificationUnavailable) {
			observe(outcomeUnavailable)
			logger.Error("signature verification unavailable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, kickResponse{Error: "Signature verification unavailable"})
			return
		}
		observe(outcomeRejected)
		logger.Warn("rejected webhook signature", "error", err)
		writeJSON(w, http.StatusUnauthorized, kickResponse{Error: "Invalid signature"})
		return
	}

	if handshake, err := provider.Handshake(r, raw); err == nil && handshake != nil {
		observe(outcomeHandshake)
		writeJSON(w, http.StatusOK, kickResponse{Success: true})
		return
	}

	event, err := provider.Normalize(raw, r.Header)
	if err != nil {
		if errors.Is(err, webhook.ErrUnsupportedEvent) {
			observe(outcomeUnsupported)
			logger.Debug("ignored unsupported event", "error", err)
			writeJSON(w, http.StatusOK, kickResponse{Success: true})
			return
		}
		observe(outcomeInvalidPayload)
		logger.Warn("invalid webhook payload", "error", err)
		writeJSON(w, http.StatusOK, kickResponse{Error: "Invalid payload"})
		return
	}

	outcome, err := h.Processor.Apply(ctx, event)
	switch {
	case errors.Is(err, ingestion.ErrStreamerNotFound):
		observe(outcomeStreamerNotFound)
		logger.Info("no streamer for webhook", "username", event.Username)
		writeJSON(w, http.StatusOK, kickResponse{Error: "Streamer not found"})
	case err != nil:
		observe(outcomeError)
		logger.Error("failed to apply live status event", "error", err)
		writeJSON(w, http.StatusInternalServerError, kickResponse{Error: "Internal error"})
	default:
		observe(appliedOutcome(outcome))
		writeJSON(w, http.StatusOK, kickResponse{Success: true})
	}
}

func (h *Handler) bodyError(w http.ResponseWriter, logger *slog.Logger, service string, err error) {
	if errors.Is(err, errBodyTooLarge) {
		h.metrics().ObserveWebhook(service, outcomeTooLarge)
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	h.metrics().ObserveWebhook(service, outcomeError)
	logger.Warn("failed to read webhook body", "error", err)
	writeError(w, http.StatusBadRequest, errors.New("unable to read request body"))
}

func appliedOutcome(outcome ingestion.Outcome) string {
	if outcome.Result.Stale {
		return outcomeStale
	}
	return outcomeApplied
}
