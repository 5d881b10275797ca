package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"streamhook/internal/directory"
	"streamhook/internal/models"
)

const maxBatchIDs = 100

type liveStatusResponse struct {
	StreamerID  int64                          `json:"streamerId"`
	IsLive      bool                           `json:"isLive"`
	Services    []models.StreamerServiceStatus `json:"services"`
	LastUpdated time.Time                      `json:"lastUpdated"`
	TTLSeconds  int64                          `json:"ttl"`
}

func newLiveStatusResponse(cache models.StreamerLiveStatusCache) liveStatusResponse {
	services := cache.Services
	if services == nil {
		services = []models.StreamerServiceStatus{}
	}
	return liveStatusResponse{
		StreamerID:  cache.StreamerID,
		IsLive:      cache.IsLive,
		Services:    services,
		LastUpdated: cache.LastUpdated,
		TTLSeconds:  int64(cache.TTL / time.Second),
	}
}

type liveStatusBatchResponse struct {
	Statuses []liveStatusResponse `json:"statuses"`
	Missing  []int64              `json:"missing"`
}

func (h *Handler) requireInternalToken(next http.Handler) http.Handler {
	expected := []byte(h.InternalToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("invalid internal token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func streamerIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "streamerID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid streamer id %q", raw)
	}
	return id, nil
}

// LiveStatus returns one streamer's live-status record.
func (h *Handler) LiveStatus(w http.ResponseWriter, r *http.Request) {
	id, err := streamerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cache, found, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.logger(r.Context()).Error("failed to read live status", "streamer_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to read live status"))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("no live status for streamer %d", id))
		return
	}
	writeJSON(w, http.StatusOK, newLiveStatusResponse(cache))
}

// LiveStatusBatch returns the records for ?ids=1,2,3.
func (h *Handler) LiveStatusBatch(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caches, err := h.Store.GetMany(r.Context(), ids)
	if err != nil {
		h.logger(r.Context()).Error("failed to read live statuses", "count", len(ids), "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to read live status"))
		return
	}
	response := liveStatusBatchResponse{
		Statuses: make([]liveStatusResponse, 0, len(caches)),
		Missing:  []int64{},
	}
	for _, id := range ids {
		if cache, ok := caches[id]; ok {
			response.Statuses = append(response.Statuses, newLiveStatusResponse(cache))
		} else {
			response.Missing = append(response.Missing, id)
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// ReinitializeLiveStatus rebuilds a record from the streamer's current
// service list, dropping services the streamer no longer has.
func (h *Handler) ReinitializeLiveStatus(w http.ResponseWriter, r *http.Request) {
	id, err := streamerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.Streamers == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("streamer directory unavailable"))
		return
	}
	streamer, err := h.Streamers.FindOne(r.Context(), id)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("streamer %d not found", id))
			return
		}
		h.logger(r.Context()).Error("failed to load streamer", "streamer_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load streamer"))
		return
	}
	cache, err := h.Store.Initialize(r.Context(), streamer.ID, streamer.Services)
	if err != nil {
		h.logger(r.Context()).Error("failed to initialize live status", "streamer_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to initialize live status"))
		return
	}
	h.logger(r.Context()).Info("live status initialized", "streamer_id", id, "services", len(cache.Services))
	writeJSON(w, http.StatusOK, newLiveStatusResponse(cache))
}

// DeleteLiveStatus drops the record of a deleted streamer.
func (h *Handler) DeleteLiveStatus(w http.ResponseWriter, r *http.Request) {
	id, err := streamerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		h.logger(r.Context()).Error("failed to delete live status", "streamer_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to delete live status"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("ids query parameter is required")
	}
	seen := make(map[int64]struct{})
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid streamer id %q", part)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("ids query parameter is required")
	}
	if len(ids) > maxBatchIDs {
		return nil, fmt.Errorf("at most %d ids per request", maxBatchIDs)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
