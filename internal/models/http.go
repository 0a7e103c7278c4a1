package models

// HTTPRequest is a materialized request ready for dispatch
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// HTTPResponse is what the execution service returns for one request
type HTTPResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body,omitempty"` // may be truncated, see Length
	Length     int64             `json:"length"`         // full body length in bytes
	ElapsedMs  int64             `json:"elapsed_ms"`
}
