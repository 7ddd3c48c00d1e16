package models

// CurtailmentResponse is returned when a command is applied.
type CurtailmentResponse struct {
	OK      bool    `json:"ok"`
	Applied float64 `json:"applied"`
}

// StatusResponse is a read-only view of the device.
type StatusResponse struct {
	Heartbeat uint16            `json:"heartbeat"`
	Tick      uint64            `json:"tick"`
	Writable  bool              `json:"writable"`
	Registers []RegisterValue   `json:"registers"`
	Identity  map[string]string `json:"identity,omitempty"`
}

// RegisterValue is one holding register, raw and decoded.
type RegisterValue struct {
	Addr  int     `json:"addr"`
	Name  string  `json:"name"`
	Unit  string  `json:"unit,omitempty"`
	Raw   uint16  `json:"raw"`
	Value float64 `json:"value"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeStaleTimestamp = "stale_timestamp"
	CodeBadSignature   = "bad_signature"
	CodeOutOfRange     = "out_of_range"
	CodeStorageError   = "storage_error"
	CodeRateLimited    = "rate_limited"
	CodeInternalError  = "internal_error"
	CodeNotFound       = "not_found"
)

func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}
