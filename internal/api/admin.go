package api

import (
	"net/http"
	"strconv"

	"github.com/dharsanguruparan/AthleteDocs/internal/athleteid"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	"github.com/dharsanguruparan/AthleteDocs/internal/queue"
)

const recentJobsLimit = 50

type batchRequest struct {
	PlayerIDs []int64 `json:"player_ids"`
	SchoolID  *int64  `json:"school_id"`
	BatchSize int     `json:"batch_size"`
}

func (s *Server) handleAthleteBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.app.IDs.GenerateBatch(r.Context(), athleteid.BatchRequest{
		PlayerIDs: req.PlayerIDs,
		SchoolID:  req.SchoolID,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		if res != nil {
			s.logger.WithError(err).WithField("generated", res.GeneratedCount).Error("athlete id batch aborted")
			respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "athlete id batch aborted", "partial": res})
			return
		}
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := queue.StatsFilter{Limit: recentJobsLimit}
	var err error
	if raw := q.Get("queue_type"); raw != "" {
		if filter.Queue, err = model.ParseQueueName(raw); err != nil {
			s.fail(w, r, model.NewValidationError(err.Error()))
			return
		}
	}
	if raw := q.Get("status"); raw != "" {
		if filter.Status, err = model.ParseJobStatus(raw); err != nil {
			s.fail(w, r, model.NewValidationError(err.Error()))
			return
		}
	}
	stats, err := s.app.Queue.Stats(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type retryRequest struct {
	JobIDs         []int64 `json:"job_ids"`
	RetryFailedAll bool    `json:"retry_failed_all"`
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.RetryFailedAll {
		res, err := s.app.Queue.RetryFailedJobs(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}
	if len(req.JobIDs) == 0 {
		s.fail(w, r, model.NewValidationError("job_ids or retry_failed_all is required"))
		return
	}
	respondJSON(w, http.StatusOK, s.app.Queue.RetryJobs(r.Context(), req.JobIDs))
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var violations []string
	entityType, err := model.ParseEntityType(q.Get("entity_type"))
	if err != nil {
		violations = append(violations, "entity_type must be player, team or tournament")
	}
	entityID, err := strconv.ParseInt(q.Get("entity_id"), 10, 64)
	if err != nil || entityID <= 0 {
		violations = append(violations, "entity_id must be a positive integer")
	}
	if len(violations) > 0 {
		s.fail(w, r, model.NewValidationError(violations...))
		return
	}
	notes, err := s.app.Store.NotificationsByEntity(r.Context(), entityType, entityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if notes == nil {
		notes = []model.Notification{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}
