package httpapi

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/internal/apperror"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError implements spec §6's error envelope and §7's code->status
// table. Every handler funnels its failure path through this so the
// shape is uniform across the whole pod surface.
func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Wrap(apperror.CodeInternalError, "unexpected error", err)
	}
	writeJSON(w, apperror.HTTPStatus(appErr.Code), errorEnvelope{
		Error: errorBody{Code: string(appErr.Code), Message: appErr.Message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
