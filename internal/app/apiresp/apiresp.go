package apiresp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorBody is the shape of every failed response.
type ErrorBody struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes body as-is. Success bodies carry their own `ok` field.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteOK writes {"ok": true} merged with the top-level fields of data.
func WriteOK(w http.ResponseWriter, status int, data map[string]interface{}) {
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["ok"] = true
	WriteJSON(w, status, out)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	WriteErrorDetail(w, r, status, msg, "")
}

func WriteErrorDetail(w http.ResponseWriter, r *http.Request, status int, msg, detail string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	body := ErrorBody{
		OK:     false,
		Error:  msg,
		Code:   codeFromStatus(status),
		Detail: detail,
	}
	if r != nil {
		body.RequestID = middleware.GetReqID(r.Context())
	}
	WriteJSON(w, status, body)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
