package model

// CurtailmentCommand is a signed request to limit PV active power.
// Tag is the hex HMAC over the canonical message (see auth.Message).
type CurtailmentCommand struct {
	Curtailment float64 `json:"curtailment"`
	Nonce       string  `json:"nonce"`
	Timestamp   int64   `json:"ts"`
	Tag         string  `json:"tag"`
}

// ControlState is the persisted shape of the control file.
type ControlState struct {
	Curtailment float64 `json:"curtailment"`
}
