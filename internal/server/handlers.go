package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/db"
	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/journey"
	"github.com/jonathan/bidpilot/internal/types"
)

const (
	maxNotificationPageSize = 200
	maxPreferenceBodyBytes  = 64 << 10
	alertStreamBuffer       = 16
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChannelHealth reports each provider's best-effort health signal.
// It is diagnostic only; an unhealthy provider is still attempted on send.
func (s *Server) handleChannelHealth(w http.ResponseWriter, r *http.Request) {
	result := map[types.Channel]bool{}
	if s.deps.Channels != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckBudget)
		defer cancel()
		result = s.deps.Channels.Health(ctx)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"channels": result})
}

// handleVAPIDPublicKey returns the application server key browsers need to
// create a push subscription
func (s *Server) handleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if s.deps.VAPIDPublicKey == "" {
		s.failure(w, r, &ErrNotFound{Resource: "vapid key", ID: string(types.ChannelDesktop)})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"public_key": s.deps.VAPIDPublicKey})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "tenantID")
	if err != nil {
		s.failure(w, r, err)
		return
	}

	entries, err := s.deps.Pipeline.GetPipeline(r.Context(), tenantID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if entries == nil {
		entries = []journey.PipelineEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"count":     len(entries),
		"entries":   entries,
	})
}

func (s *Server) handleGetPipelineStats(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "tenantID")
	if err != nil {
		s.failure(w, r, err)
		return
	}

	stats, err := s.deps.Pipeline.GetPipelineStats(r.Context(), tenantID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

// handleCaptureJob announces an already stored job as captured. Analysis
// and notification happen asynchronously; the response carries the
// correlation id that ties their logs and notification records together.
func (s *Server) handleCaptureJob(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "tenantID")
	if err != nil {
		s.failure(w, r, err)
		return
	}
	jobID, err := pathID(r, "jobID")
	if err != nil {
		s.failure(w, r, err)
		return
	}

	job, err := s.deps.Store.GetJobByID(r.Context(), tenantID, jobID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if job == nil {
		s.failure(w, r, &ErrNotFound{Resource: "job", ID: jobID.String()})
		return
	}

	correlationID := events.CorrelationID(r.Context())
	s.deps.Bus.Publish(r.Context(), events.Event{
		Kind:          events.JobCaptured,
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Payload:       events.JobCapturedPayload{JobID: jobID},
	})

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"job_id":         jobID,
		"status":         "accepted",
		"duplicate":      job.IsDuplicate(),
		"correlation_id": correlationID,
	})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := tenantAndUser(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	view, err := s.deps.Preferences.View(r.Context(), tenantID, userID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if view == nil {
		s.failure(w, r, &ErrNotFound{Resource: "alert preference", ID: userID.String()})
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// handlePutPreferences replaces the user's preference and answers with the
// masked view of what was stored
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := tenantAndUser(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	var req types.UpdatePreferenceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPreferenceBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.failure(w, r, &ErrValidation{Field: "body", Message: err.Error()})
		return
	}

	if _, err := s.deps.Preferences.Upsert(r.Context(), tenantID, userID, req); err != nil {
		s.failure(w, r, err)
		return
	}
	view, err := s.deps.Preferences.View(r.Context(), tenantID, userID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// handleRevealPreferences returns the user's decrypted credentials
func (s *Server) handleRevealPreferences(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := tenantAndUser(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	secrets, err := s.deps.Preferences.Reveal(r.Context(), tenantID, userID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if secrets == nil {
		s.failure(w, r, &ErrNotFound{Resource: "alert preference", ID: userID.String()})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.jsonResponse(w, http.StatusOK, secrets)
}

// handleListNotifications returns the user's delivery history, newest first
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := tenantAndUser(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	limit := db.DefaultNotificationPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxNotificationPageSize {
			s.failure(w, r, &ErrValidation{Field: "limit", Message: "must be between 1 and 200"})
			return
		}
		limit = n
	}

	logs, err := s.deps.Store.ListNotificationLogs(r.Context(), tenantID, userID, limit)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if logs == nil {
		logs = []types.NotificationLogEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"count":         len(logs),
		"notifications": logs,
	})
}

// handleAlertStream relays alert:jobMatch events addressed to the user as
// Server-Sent Events until the client disconnects. Alerts published while
// the client is too slow to drain its buffer are dropped; the notification
// history remains the durable record.
func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := tenantAndUser(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	alerts := make(chan events.JobMatchPayload, alertStreamBuffer)
	unsubscribe := events.On(s.deps.Bus, events.AlertJobMatch, "http.alert-stream",
		func(_ context.Context, ev events.Event, p events.JobMatchPayload) error {
			if ev.TenantID != tenantID || p.UserID != userID {
				return nil
			}
			select {
			case alerts <- p:
			case <-ctx.Done():
			default:
				s.log.Warnw("Alert stream buffer full, dropping alert",
					"user_id", userID, "job_id", p.JobID, "correlation_id", ev.CorrelationID)
			}
			return nil
		})
	defer unsubscribe()

	s.log.Debugw("Alert stream opened", "tenant_id", tenantID, "user_id", userID)
	if err := sse.WriteEvent("ready", "", map[string]string{"user_id": userID.String()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(s.cfg.StreamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Debugw("Alert stream closed", "tenant_id", tenantID, "user_id", userID)
			return
		case p := <-alerts:
			if err := sse.WriteEvent(string(events.AlertJobMatch), p.MessageID, alertView(p)); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := sse.WriteComment("ping"); err != nil {
				return
			}
		}
	}
}

type alertMessage struct {
	MessageID string    `json:"message_id"`
	JobID     uuid.UUID `json:"job_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url,omitempty"`
	FitScore  int       `json:"fit_score"`
}

func alertView(p events.JobMatchPayload) alertMessage {
	return alertMessage{
		MessageID: p.MessageID,
		JobID:     p.JobID,
		Title:     p.Title,
		Body:      p.Body,
		URL:       p.URL,
		FitScore:  p.FitScore,
	}
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: name, Message: "must be a UUID"}
	}
	return id, nil
}

func tenantAndUser(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := pathID(r, "tenantID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, userID, nil
}
