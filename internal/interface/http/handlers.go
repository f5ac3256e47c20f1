package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
	"github.com/learnquest/proctoring-engine/pkg/logger"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "proctoring-engine",
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"live_sessions": s.deps.Registry.Len(),
		"checked_at":    time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Database.Ping(ctx); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "database_unavailable", "database ping failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitTestRequest is the test submission payload.
type submitTestRequest struct {
	UserID     string  `json:"user_id"`
	CourseID   string  `json:"course_id"`
	Score      float64 `json:"score"`
	Difficulty string  `json:"difficulty"`
}

// verdictResponse is the API shape of a finalized verdict.
type verdictResponse struct {
	UserID            string                    `json:"user_id"`
	CourseID          string                    `json:"course_id"`
	Difficulty        string                    `json:"difficulty,omitempty"`
	TestScore         float64                   `json:"test_score"`
	BehaviorScore     float64                   `json:"behavior_score"`
	FinalScore        float64                   `json:"final_score"`
	CertificateStatus session.CertificateStatus `json:"certificate_status"`
	Violations        []violation.Event         `json:"violations"`
	DetailedReport    violation.Report          `json:"detailed_report"`
	SubmittedAt       time.Time                 `json:"submitted_at"`
}

func toVerdictResponse(result *session.Result) verdictResponse {
	return verdictResponse{
		UserID:            result.UserID,
		CourseID:          result.CourseID,
		Difficulty:        string(result.Difficulty),
		TestScore:         result.TestScore,
		BehaviorScore:     result.BehaviorScore,
		FinalScore:        result.FinalScore,
		CertificateStatus: result.CertificateStatus,
		Violations:        result.Violations,
		DetailedReport:    violation.BuildReport(result.Violations, result.BehaviorScore),
		SubmittedAt:       result.SubmittedAt,
	}
}

// handleSubmitTest finalizes the live session with the graded test score.
// Submitting again after the session closed returns the recorded verdict, so
// client retries are safe.
func (s *Server) handleSubmitTest(w http.ResponseWriter, r *http.Request) {
	var req submitTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}

	key := session.Key{UserID: req.UserID, CourseID: req.CourseID}
	if err := key.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_key", "user_id and course_id are required")
		return
	}

	sub := session.TestSubmission{
		TestScore:  req.Score,
		Difficulty: session.Difficulty(req.Difficulty),
	}
	if err := sub.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_submission", err.Error())
		return
	}

	if worker, ok := s.deps.Registry.Lookup(key); ok {
		result, err := worker.Finalize(r.Context(), sub)
		switch {
		case err == nil:
			s.cacheVerdict(result)
			writeJSON(w, http.StatusOK, toVerdictResponse(result))
			return
		case errors.Is(err, shared.ErrPersistence):
			// The decision stands even though the write failed.
			s.logger.Error("verdict returned without persistence",
				logger.UserID(key.UserID),
				logger.CourseID(key.CourseID),
				logger.Err(err),
			)
			writeJSON(w, http.StatusOK, toVerdictResponse(result))
			return
		case errors.Is(err, shared.ErrSessionClosed):
			// Lost the race with another finalize path; serve its verdict.
		default:
			writeJSONError(w, http.StatusInternalServerError, "finalize_failed", "failed to finalize session")
			return
		}
	}

	result, err := s.loadVerdict(r, key)
	if err != nil {
		if shared.IsNotFound(err) {
			writeJSONError(w, http.StatusNotFound, "session_not_found", "no session or verdict for this user and course")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "storage_error", "failed to load verdict")
		return
	}
	writeJSON(w, http.StatusOK, toVerdictResponse(result))
}

func (s *Server) handleTestResults(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	limit := queryInt(r, "limit", 50)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results, err := s.deps.Results.ListByUser(ctx, userID, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "storage_error", "failed to load test results")
		return
	}

	out := make([]verdictResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toVerdictResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	key, ok := keyFromVars(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 200)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entries, err := s.deps.Violations.ListByKey(ctx, key, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "storage_error", "failed to load violations")
		return
	}

	type violationEntry struct {
		ID       string          `json:"id"`
		LoggedAt time.Time       `json:"logged_at"`
		Event    violation.Event `json:"event"`
	}
	items := make([]violationEntry, 0, len(entries))
	events := make([]violation.Event, 0, len(entries))
	for _, e := range entries {
		items = append(items, violationEntry{ID: e.ID, LoggedAt: e.LoggedAt, Event: e.Violation})
		events = append(events, e.Violation)
	}

	score := violation.BaseScore
	if worker, live := s.deps.Registry.Lookup(key); live {
		score = worker.Status().BehaviorScore
	} else if result, err := s.loadVerdict(r, key); err == nil {
		score = result.BehaviorScore
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"violations": items,
		"summary":    violation.Summarize(events, score),
	})
}

func (s *Server) handleCertificateStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := keyFromVars(w, r)
	if !ok {
		return
	}

	if result, err := s.loadVerdict(r, key); err == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"certificate_status": result.CertificateStatus,
			"final_score":        result.FinalScore,
			"submitted_at":       result.SubmittedAt,
		})
		return
	} else if !shared.IsNotFound(err) {
		writeJSONError(w, http.StatusInternalServerError, "storage_error", "failed to load verdict")
		return
	}

	if _, live := s.deps.Registry.Lookup(key); live {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"certificate_status": "pending",
		})
		return
	}

	writeJSONError(w, http.StatusNotFound, "verdict_not_found", "no verdict recorded for this user and course")
}

// handleLiveScore serves the current behavior score of a live session, or
// the final behavior score once the verdict is recorded.
func (s *Server) handleLiveScore(w http.ResponseWriter, r *http.Request) {
	key, ok := keyFromVars(w, r)
	if !ok {
		return
	}

	if worker, live := s.deps.Registry.Lookup(key); live {
		st := worker.Status()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"behavior_score": st.BehaviorScore,
			"violations":     st.Violations,
			"state":          st.StateName,
		})
		return
	}

	result, err := s.loadVerdict(r, key)
	if err != nil {
		if shared.IsNotFound(err) {
			writeJSONError(w, http.StatusNotFound, "session_not_found", "no session or verdict for this user and course")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "storage_error", "failed to load verdict")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"behavior_score": result.BehaviorScore,
		"violations":     len(result.Violations),
		"state":          "closed",
	})
}

// loadVerdict reads through the cache to the repository.
func (s *Server) loadVerdict(r *http.Request, key session.Key) (*session.Result, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.deps.Cache != nil {
		if result, err := s.deps.Cache.Get(ctx, key); err == nil {
			return result, nil
		}
	}

	result, err := s.deps.Results.LatestByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cacheVerdict(result)
	return result, nil
}

func (s *Server) cacheVerdict(result *session.Result) {
	if s.deps.Cache == nil || result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Cache.Put(ctx, result); err != nil {
		s.logger.Warn("verdict cache write failed",
			logger.UserID(result.UserID),
			logger.CourseID(result.CourseID),
			logger.Err(err),
		)
	}
}

func keyFromVars(w http.ResponseWriter, r *http.Request) (session.Key, bool) {
	vars := mux.Vars(r)
	key := session.Key{UserID: vars["userID"], CourseID: vars["courseID"]}
	if err := key.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_key", "user and course IDs are required")
		return session.Key{}, false
	}
	return key, true
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
