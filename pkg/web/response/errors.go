package response

import (
	"context"
	"errors"
	"net/http"

	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
)

// ErrorResponse is the envelope written for every failed request
type ErrorResponse struct {
	Error  ErrorDetail `json:"error"`
	Status int         `json:"status"`
	Path   string      `json:"path,omitempty"`
	Method string      `json:"method,omitempty"`
}

// ErrorDetail contains detailed error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Transport-level codes not covered by the error taxonomy
const (
	CodeTimeout          = "TIMEOUT"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRouteNotFound    = "ROUTE_NOT_FOUND"
)

const internalMessage = "An internal server error occurred"

// ErrorFor maps err onto its envelope. Typed errors keep their message and
// structured details; anything else is reported as a 500 whose text is
// only exposed when showDetails is set.
func ErrorFor(err error, showDetails bool) ErrorResponse {
	var (
		valErr      *weberrors.ValidationError
		notFoundErr *weberrors.NotFoundError
		conflictErr *weberrors.ConflictError
		tooLarge    *http.MaxBytesError
	)

	switch {
	case errors.As(err, &valErr):
		details := map[string]interface{}{"kind": string(valErr.Kind)}
		if valErr.Field != "" {
			details["field"] = valErr.Field
		}
		if valErr.Operator != "" {
			details["operator"] = valErr.Operator
		}
		return envelope(err, valErr.Error(), details)

	case errors.As(err, &notFoundErr):
		details := map[string]interface{}{"entity": notFoundErr.Entity}
		if len(notFoundErr.Key) > 0 {
			details["key"] = notFoundErr.Key
		}
		if notFoundErr.Malformed {
			details["malformed"] = true
		}
		return envelope(err, notFoundErr.Error(), details)

	case errors.As(err, &conflictErr):
		details := map[string]interface{}{"entity": conflictErr.Entity}
		if len(conflictErr.Key) > 0 {
			details["key"] = conflictErr.Key
		}
		return envelope(err, conflictErr.Error(), details)

	case errors.As(err, &tooLarge):
		return ErrorResponse{
			Error: ErrorDetail{
				Code:    CodePayloadTooLarge,
				Message: "Request body too large",
				Details: map[string]interface{}{"limit": tooLarge.Limit},
			},
			Status: http.StatusRequestEntityTooLarge,
		}

	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse{
			Error:  ErrorDetail{Code: CodeTimeout, Message: "The request timed out"},
			Status: http.StatusGatewayTimeout,
		}
	}

	resp := ErrorResponse{
		Error:  ErrorDetail{Code: weberrors.Code(err), Message: internalMessage},
		Status: weberrors.StatusCode(err),
	}
	if showDetails && err != nil {
		resp.Error.Details = map[string]interface{}{"error": err.Error()}
	}
	return resp
}

func envelope(err error, message string, details map[string]interface{}) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    weberrors.Code(err),
			Message: message,
			Details: details,
		},
		Status: weberrors.StatusCode(err),
	}
}

// WriteError writes an envelope with an explicit status and code
func (r *Renderer) WriteError(w http.ResponseWriter, req *http.Request, status int, code, message string) error {
	resp := ErrorResponse{
		Error:  ErrorDetail{Code: code, Message: message},
		Status: status,
	}
	if req != nil {
		resp.Path = req.URL.Path
		resp.Method = req.Method
	}
	return r.JSON(w, status, resp)
}
