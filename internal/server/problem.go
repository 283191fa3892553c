package server

import (
	"encoding/json"
	"net/http"

	"github.com/Ning0612/Treewagon/internal/store/httpstore"
)

// writeProblem writes an RFC 7807 problem response
func writeProblem(w http.ResponseWriter, status int, code, detail string) {
	problem := &httpstore.Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	}

	w.Header().Set("Content-Type", httpstore.ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// writeStoreError maps a store error to its wire code and status
func writeStoreError(w http.ResponseWriter, err error) {
	code, status := httpstore.ErrorCode(err)
	writeProblem(w, status, code, err.Error())
}

func badRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusBadRequest, httpstore.CodeBadRequest, detail)
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="treewagon", charset="UTF-8"`)
	writeProblem(w, http.StatusUnauthorized, httpstore.CodeUnauthorized, detail)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
