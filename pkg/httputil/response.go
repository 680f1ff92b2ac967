// Package httputil provides HTTP handler utilities for consistent error
// payloads, JSON encoding/decoding, and the shared middleware chain.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the wire shape of every failure: a stable machine
// code clients switch on, plus an optional human sentence.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes an error payload with a machine code only
func WriteError(w http.ResponseWriter, status int, code string) {
	WriteJSON(w, status, ErrorResponse{Error: code})
}

// WriteErrorDetail writes an error payload with a machine code and a
// human-readable detail sentence
func WriteErrorDetail(w http.ResponseWriter, status int, code, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Detail: detail})
}

// WriteBadRequest writes a 400 error
func WriteBadRequest(w http.ResponseWriter, code string) {
	WriteError(w, http.StatusBadRequest, code)
}

// WriteUnauthorized writes a 401 error
func WriteUnauthorized(w http.ResponseWriter, code string) {
	WriteError(w, http.StatusUnauthorized, code)
}

// WriteForbidden writes a 403 error
func WriteForbidden(w http.ResponseWriter, code string) {
	WriteError(w, http.StatusForbidden, code)
}

// WriteNotFound writes a 404 error
func WriteNotFound(w http.ResponseWriter, code string) {
	WriteError(w, http.StatusNotFound, code)
}

// WriteInternalError writes a 500 error
func WriteInternalError(w http.ResponseWriter, code string) {
	WriteError(w, http.StatusInternalServerError, code)
}

// WriteSuccess writes a 200 response with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 response with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteStatus writes the conventional {"status": "..."} success body
func WriteStatus(w http.ResponseWriter, status string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}
