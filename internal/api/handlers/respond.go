package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/storegrid/engine/internal/api/types"
	appErr "github.com/storegrid/engine/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case appErr.IsCode(err, appErr.CodeInvalid):
		status = http.StatusBadRequest
	case appErr.IsCode(err, appErr.CodeNotFound):
		status = http.StatusNotFound
	case appErr.IsCode(err, appErr.CodeConflict),
		appErr.IsCode(err, appErr.CodeWorkspaceConflict):
		status = http.StatusConflict
	case appErr.IsCode(err, appErr.CodeStagingQuotaExhausted),
		appErr.IsCode(err, appErr.CodeAllocationExhausted):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, types.APIResponse{Success: false, Error: types.FromAppError(err)})
}

func writeErrorStr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.APIResponse{Success: false, Error: &types.APIError{Code: "invalid", Message: msg}})
}
