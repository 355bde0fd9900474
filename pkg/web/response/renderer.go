// Package response renders generated-endpoint payloads and typed errors as
// JSON.
package response

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RendererConfig configures the renderer
type RendererConfig struct {
	PrettyPrint bool
	// ShowDetails includes the underlying error text in 5xx envelopes.
	// Disable in production.
	ShowDetails bool
}

// Renderer writes JSON responses
type Renderer struct {
	prettyPrint    bool
	showDetails    bool
	defaultHeaders map[string]string
}

// NewRenderer creates a new response renderer
func NewRenderer() *Renderer {
	return NewRendererWithConfig(RendererConfig{})
}

// NewRendererWithConfig creates a renderer with custom configuration
func NewRendererWithConfig(config RendererConfig) *Renderer {
	return &Renderer{
		prettyPrint:    config.PrettyPrint,
		showDetails:    config.ShowDetails,
		defaultHeaders: make(map[string]string),
	}
}

// SetDefaultHeader sets a header written on every response
func (r *Renderer) SetDefaultHeader(key, value string) {
	r.defaultHeaders[key] = value
}

// JSON renders data with the given status. The payload is encoded before
// anything is written so an encoding failure leaves the response untouched.
func (r *Renderer) JSON(w http.ResponseWriter, status int, data interface{}) error {
	var (
		body []byte
		err  error
	)
	if r.prettyPrint {
		body, err = json.MarshalIndent(data, "", "  ")
	} else {
		body, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	for key, value := range r.defaultHeaders {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if _, err := w.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// NoContent sends a 204 No Content response
func (r *Renderer) NoContent(w http.ResponseWriter) {
	for key, value := range r.defaultHeaders {
		w.Header().Set(key, value)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Error renders err as an error envelope for req
func (r *Renderer) Error(w http.ResponseWriter, req *http.Request, err error) error {
	resp := ErrorFor(err, r.showDetails)
	if req != nil {
		resp.Path = req.URL.Path
		resp.Method = req.Method
	}
	return r.JSON(w, resp.Status, resp)
}

// RenderJSON renders data with a default renderer
func RenderJSON(w http.ResponseWriter, status int, data interface{}) error {
	return NewRenderer().JSON(w, status, data)
}
