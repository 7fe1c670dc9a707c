package web

import (
	"net/http"

	"github.com/JonMunkholm/feedpipe/internal/model"
)

// handleDedup runs a deduplication pass over the workspace. A pass already
// running for the workspace answers 409.
func (s *Server) handleDedup(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws")
	if err != nil {
		respondError(w, r, err)
		return
	}

	report, err := s.service.RunDeduplication(r.Context(), params[0])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// handleFinalProducts lists the workspace's deduplicated products.
func (s *Server) handleFinalProducts(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws")
	if err != nil {
		respondError(w, r, err)
		return
	}

	rows, err := s.service.ListFinalProducts(r.Context(), params[0])
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.FinalProduct{}
	}
	writeJSON(w, map[string]any{"workspace_id": params[0], "count": len(rows), "products": rows})
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws")
	if err != nil {
		respondError(w, r, err)
		return
	}

	fields, err := s.service.ListCustomFields(r.Context(), params[0])
	if err != nil {
		respondError(w, r, err)
		return
	}
	if fields == nil {
		fields = []model.CustomField{}
	}
	writeJSON(w, fields)
}

// handlePutField creates or replaces one custom field. The workspace and
// key come from the path.
func (s *Server) handlePutField(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws", "key")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var f model.CustomField
	if err := decodeJSON(w, r, &f); err != nil {
		respondError(w, r, err)
		return
	}
	f.WorkspaceID, f.Key = params[0], params[1]

	if err := s.service.SaveCustomField(r.Context(), f); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, f)
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws", "sup")
	if err != nil {
		respondError(w, r, err)
		return
	}

	rules, err := s.service.ListFieldMappings(r.Context(), params[0], params[1])
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rules == nil {
		rules = []model.FieldMapping{}
	}
	writeJSON(w, rules)
}

// handlePutMappings replaces a supplier's whole mapping rule set with the
// JSON array in the body.
func (s *Server) handlePutMappings(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws", "sup")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var rules []model.FieldMapping
	if err := decodeJSON(w, r, &rules); err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.service.ReplaceFieldMappings(r.Context(), params[0], params[1], rules); err != nil {
		respondError(w, r, err)
		return
	}
	stored, err := s.service.ListFieldMappings(r.Context(), params[0], params[1])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, stored)
}

func (s *Server) handleListDedupRules(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws")
	if err != nil {
		respondError(w, r, err)
		return
	}

	rules, err := s.service.ListDedupRules(r.Context(), params[0])
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rules == nil {
		rules = []model.DedupRule{}
	}
	writeJSON(w, rules)
}

// handlePutDedupRule creates or replaces one dedup rule.
func (s *Server) handlePutDedupRule(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws", "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var rule model.DedupRule
	if err := decodeJSON(w, r, &rule); err != nil {
		respondError(w, r, err)
		return
	}
	rule.WorkspaceID, rule.ID = params[0], params[1]

	if err := s.service.SaveDedupRule(r.Context(), rule); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, rule)
}

// handleDeactivateProduct soft-deletes one mapped product.
func (s *Server) handleDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws", "sup", "uid")
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.service.DeactivateProduct(r.Context(), params[0], params[1], params[2]); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resetRequest is the body of a uid counter reset. Value defaults to 0.
type resetRequest struct {
	Value int64 `json:"value" validate:"gte=0"`
}

// handleResetUIDCounter sets a workspace's uid counter. An empty body
// resets it to zero.
func (s *Server) handleResetUIDCounter(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body resetRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, r, err)
			return
		}
		if err := validateBody(body); err != nil {
			respondError(w, r, err)
			return
		}
	}

	if err := s.resetter.ResetUIDCounter(r.Context(), params[0], body.Value); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"workspace_id": params[0], "last_uid": body.Value})
}
