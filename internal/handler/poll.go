package handler

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/service"
	"github.com/brokercrm/chat-ingest/pkg/logger"
	"github.com/brokercrm/chat-ingest/pkg/metrics"
)

// PollHandler is the long-poll gateway: it holds the request open, probing
// the change feed until new data appears or the requested timeout elapses.
// The loop is bounded by the timeout regardless of client presence, so a
// disconnected client cannot leak the goroutine.
type PollHandler struct {
	feed *service.FeedService
	log  *logger.Logger

	checkInterval  time.Duration
	maxTimeout     time.Duration
	defaultTimeout time.Duration
}

// NewPollHandler creates a poll handler. checkInterval is the sleep between
// feed probes; maxTimeout caps the client-requested hold duration.
func NewPollHandler(feed *service.FeedService, checkInterval, maxTimeout time.Duration, log *logger.Logger) *PollHandler {
	return &PollHandler{
		feed:           feed,
		log:            log,
		checkInterval:  checkInterval,
		maxTimeout:     maxTimeout,
		defaultTimeout: 25 * time.Second,
	}
}

// Poll handles GET /api/v1/poll?timeout=&version=&handle=
func (h *PollHandler) Poll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	timeout := h.defaultTimeout
	if t := r.URL.Query().Get("timeout"); t != "" {
		if parsed, err := strconv.Atoi(t); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	if timeout > h.maxTimeout {
		timeout = h.maxTimeout
	}

	clientVersion := int64(0)
	if v := r.URL.Query().Get("version"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed >= 0 {
			clientVersion = parsed
		}
	}
	handle := r.URL.Query().Get("handle")

	// The backing store must be initialized before the wait loop; one lazy
	// initialization attempt is made here.
	if err := h.feed.Ready(ctx); err != nil {
		h.log.Error("change feed store not ready", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "change feed unavailable")
		return
	}

	metrics.PollsActive.Inc()
	defer metrics.PollsActive.Dec()
	start := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	deadline := start.Add(timeout)
	for {
		changed, err := h.feed.NeedsUpdate(ctx, clientVersion)
		if err != nil {
			// Transient probe failure: treated as "no change this
			// iteration", the loop runs on until the deadline.
			h.log.Warn("poll check failed, continuing", zap.Error(err))
		} else if changed {
			msgs, current, err := h.feed.ChangesSince(ctx, clientVersion, handle)
			if err != nil {
				h.log.Warn("poll fetch failed, continuing", zap.Error(err))
			} else {
				writeJSON(w, http.StatusOK, &model.PollResponse{
					Timeout:  false,
					Version:  current,
					Messages: msgs,
				})
				return
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := h.checkInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			// Client went away; stop probing. Nothing to deliver.
			return
		case <-time.After(wait):
		}
	}

	current, err := h.feed.CurrentVersion(ctx)
	if err != nil {
		// Report the client's own version back so it re-polls unchanged.
		current = clientVersion
	}
	writeJSON(w, http.StatusOK, &model.PollResponse{
		Timeout:  true,
		Version:  current,
		Messages: []model.ChatMessage{},
	})
}
