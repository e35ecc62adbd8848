// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/harborlink/portalgate/internal/portalerr"
	"github.com/harborlink/portalgate/internal/session"
)

// sessionRef is the common request envelope: either an existing
// session_id or a full credential triple.
type sessionRef struct {
	SessionID     string `json:"session_id"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaAPIKey string `json:"captcha_api_key"`
	Debug         bool   `json:"debug"`
}

func (s sessionRef) credentials() session.Credentials {
	return session.Credentials{
		Username:   s.Username,
		Password:   s.Password,
		CaptchaKey: s.CaptchaAPIKey,
	}
}

// decodeJSON parses the body into dst, classifying malformed input.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &portalerr.Error{
				Kind:    portalerr.KindInvalidType,
				Message: "field " + typeErr.Field + " has the wrong type",
				Field:   typeErr.Field,
				Err:     err,
			}
		}
		if errors.Is(err, io.EOF) {
			return portalerr.New(portalerr.KindMissingField, "request body is empty")
		}
		return portalerr.Wrap(portalerr.KindInvalidType, err, "malformed request body")
	}
	return nil
}

// decodeEnvelope parses the body twice: once into the typed envelope and
// once into a raw map, so endpoints with open-ended field sets (the
// appointment forms) can collect everything the client sent.
func decodeEnvelope(r *http.Request, dst any, raw *map[string]any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return portalerr.Wrap(portalerr.KindInvalidType, err, "read request body")
	}
	if len(body) == 0 {
		return portalerr.New(portalerr.KindMissingField, "request body is empty")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &portalerr.Error{
				Kind:    portalerr.KindInvalidType,
				Message: "field " + typeErr.Field + " has the wrong type",
				Field:   typeErr.Field,
				Err:     err,
			}
		}
		return portalerr.Wrap(portalerr.KindInvalidType, err, "malformed request body")
	}
	if raw != nil {
		if err := json.Unmarshal(body, raw); err != nil {
			return portalerr.Wrap(portalerr.KindInvalidType, err, "malformed request body")
		}
	}
	return nil
}

// validate checks that the envelope carries one usable session reference.
func (s sessionRef) validate() error {
	if s.SessionID != "" {
		return nil
	}
	if s.Username == "" {
		return portalerr.MissingField("username")
	}
	if s.Password == "" {
		return portalerr.MissingField("password")
	}
	return nil
}
