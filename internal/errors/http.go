package errors

import (
	"encoding/json"
	"net/http"
)

// Response is the failure body every endpoint returns.
type Response struct {
	OK            bool        `json:"ok"`
	Error         ErrorCode   `json:"error"`
	Message       string      `json:"message,omitempty"`
	Status        int         `json:"status,omitempty"`
	Response      interface{} `json:"response,omitempty"`
	PreviousError interface{} `json:"previous_error,omitempty"`
	TemplateError interface{} `json:"template_error,omitempty"`
}

// ToResponse converts an error into the API failure body.
func ToResponse(err error) Response {
	resp := Response{
		Error:   GetCode(err),
		Message: GetUserMessage(err),
	}
	if detail, ok := ProviderDetail(err); ok {
		resp.Status = detail.Status
		resp.Response = detail.Response
	}
	if appErr, ok := As(err); ok {
		if prev, ok := appErr.Context["previous_error"]; ok {
			resp.PreviousError = prev
		}
		if prev, ok := appErr.Context["template_error"]; ok {
			resp.TemplateError = prev
		}
	}
	return resp
}

// WriteJSON writes err as a JSON failure response with the mapped status.
func WriteJSON(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatusCode(err))
	_ = json.NewEncoder(w).Encode(ToResponse(err))
}
