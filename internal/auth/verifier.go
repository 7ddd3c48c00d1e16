// Package auth verifies signed curtailment commands.
//
// A command is accepted when its timestamp is within the freshness window
// of the verifier's clock and its tag is the HMAC-SHA256 of
//
//	"<curtailment %.6f>|<nonce>|<ts>"
//
// under the shared control secret. The verifier keeps no record of nonces
// it has seen: a captured command can be replayed until it goes stale.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rohanbalixz/clad-pv/internal/model"
)

// DefaultFreshness is the maximum allowed |now - ts|.
const DefaultFreshness = 60 * time.Second

var (
	ErrStaleTimestamp = errors.New("stale timestamp")
	ErrBadSignature   = errors.New("bad signature")
)

// Message returns the canonical byte string a command's tag covers.
func Message(curtailment float64, nonce string, ts int64) []byte {
	return []byte(fmt.Sprintf("%.6f|%s|%d", curtailment, nonce, ts))
}

// Sign returns the hex tag for a command under secret.
func Sign(secret []byte, curtailment float64, nonce string, ts int64) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(Message(curtailment, nonce, ts))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks freshness first and then the tag. It has no side effects.
func Verify(cmd model.CurtailmentCommand, secret []byte, now time.Time, window time.Duration) error {
	if err := checkFresh(cmd, now, window); err != nil {
		return err
	}
	return checkTag(cmd, secret)
}

// VerifyAny is Verify against a set of acceptable secrets, used while a
// secret is being rotated.
func VerifyAny(cmd model.CurtailmentCommand, secrets [][]byte, now time.Time, window time.Duration) error {
	if err := checkFresh(cmd, now, window); err != nil {
		return err
	}
	for _, s := range secrets {
		if checkTag(cmd, s) == nil {
			return nil
		}
	}
	return ErrBadSignature
}

func checkFresh(cmd model.CurtailmentCommand, now time.Time, window time.Duration) error {
	if window <= 0 {
		window = DefaultFreshness
	}
	skew := now.Unix() - cmd.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(window/time.Second) {
		return ErrStaleTimestamp
	}
	return nil
}

func checkTag(cmd model.CurtailmentCommand, secret []byte) error {
	if len(secret) == 0 {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(cmd.Tag)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(Message(cmd.Curtailment, cmd.Nonce, cmd.Timestamp))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
