package perception

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"perception-core/internal/logger"
	"perception-core/internal/vision"
)

func (s *Service) GetRelationsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sceneID := vars["scene_id"]
	entityID := vars["entity_id"]

	record, err := s.records.GetRecord(r.Context(), sceneID, entityID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(fmt.Sprintf("Failed to load record: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entity_id":            entityID,
		"visibility_relations": record.VisibilityRelations,
		"cover_relations":      record.CoverRelations,
		"kill_switch":          record.KillSwitch,
	})
}

func (s *Service) GetEffectsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sceneID := vars["scene_id"]
	entityID := vars["entity_id"]

	aggregates, err := s.effects.List(r.Context(), sceneID, entityID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(fmt.Sprintf("Failed to list effects: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entity_id": entityID,
		"effects":   aggregates,
	})
}

func (s *Service) SetOverrideHandler(w http.ResponseWriter, r *http.Request) {
	sceneID := mux.Vars(r)["scene_id"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Failed to read request body"))
		return
	}
	if err := s.overrideSchema.ValidateBytes(body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(fmt.Sprintf("Invalid override request: %v", err)))
		return
	}

	var req struct {
		ObserverID          string                 `json:"observer_id"`
		TargetID            string                 `json:"target_id"`
		State               vision.VisibilityState `json:"state"`
		Source              string                 `json:"source"`
		Persistent          bool                   `json:"persistent"`
		DurationMinutes     int                    `json:"duration_minutes"`
		ExpectedCover       vision.CoverState      `json:"expected_cover"`
		ExpectedConcealment bool                   `json:"expected_concealment"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Invalid request body"))
		return
	}

	err = s.overrides.SetOverride(r.Context(), sceneID, req.ObserverID, req.TargetID, req.State, OverrideOptions{
		Persistent:          req.Persistent,
		DurationMinutes:     req.DurationMinutes,
		Source:              req.Source,
		ExpectedCover:       req.ExpectedCover,
		ExpectedConcealment: req.ExpectedConcealment,
	})
	if err != nil {
		if errors.Is(err, vision.ErrInvalidVisibilityState) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(fmt.Sprintf("Failed to set override: %v", err)))
		return
	}

	s.recomputeAfterOverride(r, sceneID, req.ObserverID, req.TargetID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":     "Override set",
		"observer_id": req.ObserverID,
		"target_id":   req.TargetID,
		"state":       req.State,
	})
}

func (s *Service) GetOverrideHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sceneID := vars["scene_id"]
	observerID := vars["observer_id"]
	targetID := vars["target_id"]

	override, err := s.overrides.GetOverride(r.Context(), sceneID, observerID, targetID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(fmt.Sprintf("Failed to load override: %v", err)))
		return
	}
	if override == nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Override not found"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(override)
}

func (s *Service) RemoveOverrideHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sceneID := vars["scene_id"]
	observerID := vars["observer_id"]
	targetID := vars["target_id"]

	if err := s.overrides.RemoveOverride(r.Context(), sceneID, observerID, targetID); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(fmt.Sprintf("Failed to remove override: %v", err)))
		return
	}

	s.recomputeAfterOverride(r, sceneID, observerID, targetID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) SetKillSwitchHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sceneID := vars["scene_id"]
	entityID := vars["entity_id"]

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Invalid request body"))
		return
	}

	if err := s.overrides.SetKillSwitch(r.Context(), sceneID, entityID, req.Enabled); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(fmt.Sprintf("Failed to set kill switch: %v", err)))
		return
	}

	// The flag changes which tier wins for every pair the entity observes.
	if err := s.engine.RecomputeAround(r.Context(), sceneID, entityID); err != nil {
		logger.Component("http").WithError(err).Warn("Recompute after kill switch change failed")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entity_id":   entityID,
		"kill_switch": req.Enabled,
	})
}

// ResolveMismatchHandler applies an operator's decision on a reported
// mismatch: clear removes the override, confirm refreshes its recorded
// expectations to match current reality, keep leaves everything as is.
func (s *Service) ResolveMismatchHandler(w http.ResponseWriter, r *http.Request) {
	sceneID := mux.Vars(r)["scene_id"]

	var req struct {
		ObserverID string `json:"observer_id"`
		TargetID   string `json:"target_id"`
		Action     string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Invalid request body"))
		return
	}
	if req.ObserverID == "" || req.TargetID == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("observer_id and target_id are required"))
		return
	}

	switch req.Action {
	case "clear":
		if err := s.overrides.RemoveOverride(r.Context(), sceneID, req.ObserverID, req.TargetID); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(fmt.Sprintf("Failed to clear override: %v", err)))
			return
		}
		s.recomputeAfterOverride(r, sceneID, req.ObserverID, req.TargetID)
	case "confirm":
		if err := s.confirmOverride(r, sceneID, req.ObserverID, req.TargetID); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(fmt.Sprintf("Failed to confirm override: %v", err)))
			return
		}
	case "keep":
		// Explicit no-op: the mismatch stands and will be reported again.
	default:
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("action must be one of clear, confirm, keep"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"observer_id": req.ObserverID,
		"target_id":   req.TargetID,
		"action":      req.Action,
	})
}

func (s *Service) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// confirmOverride re-pins the override with expectations refreshed to the
// freshly computed relation, so the validator stops flagging it.
func (s *Service) confirmOverride(r *http.Request, sceneID, observerID, targetID string) error {
	override, err := s.overrides.GetOverride(r.Context(), sceneID, observerID, targetID)
	if err != nil {
		return err
	}
	if override == nil {
		return fmt.Errorf("no override for pair %s → %s", observerID, targetID)
	}

	current, cover, err := s.engine.ComputePair(r.Context(), sceneID, observerID, targetID)
	if err != nil {
		return err
	}

	return s.overrides.SetOverride(r.Context(), sceneID, observerID, targetID, override.State, OverrideOptions{
		Persistent:          override.Persistent,
		Source:              override.Source,
		ExpectedCover:       cover,
		ExpectedConcealment: current == vision.StateConcealed,
	})
}

func (s *Service) recomputeAfterOverride(r *http.Request, sceneID, observerID, targetID string) {
	if err := s.engine.RecomputePair(r.Context(), sceneID, observerID, targetID); err != nil {
		logger.Component("http").WithError(err).Warn("Recompute after override change failed")
	}
}
