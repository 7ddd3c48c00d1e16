package models

import "github.com/rohanbalixz/clad-pv/internal/model"

// CurtailmentRequest is the body of POST /api/v1/curtailment. Pointers let
// a legitimate 0 pass the required check.
type CurtailmentRequest struct {
	Curtailment *float64 `json:"curtailment" binding:"required"`
	Nonce       string   `json:"nonce" binding:"required"`
	TS          *int64   `json:"ts" binding:"required"`
	Tag         string   `json:"tag" binding:"required"`
}

func (r CurtailmentRequest) Command() model.CurtailmentCommand {
	return model.CurtailmentCommand{
		Curtailment: *r.Curtailment,
		Nonce:       r.Nonce,
		Timestamp:   *r.TS,
		Tag:         r.Tag,
	}
}
