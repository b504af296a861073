package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
)

// Stable error codes of the API. Clients switch on these; the message is
// for humans.
const (
	codeTokenRequired      = "access_token_required"
	codeInvalidToken       = "invalid_token"
	codeInvalidCredentials = "invalid_credentials"
	codeInvalidRequest     = "invalid_request"
	codeUserExists         = "user_already_exists"
	codeUserNotFound       = "user_not_found"
	codeVKParamsRequired   = "vk_params_required"
	codeInvalidVKParams    = "invalid_vk_params"
	codeInvalidVKSignature = "invalid_vk_signature"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: code, Message: message})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
