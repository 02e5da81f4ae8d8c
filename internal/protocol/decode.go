// ABOUTME: Strict decoding and validation of inbound WebSocket frames
// ABOUTME: Unknown types, unknown fields, and tag violations become validation errors before dispatch

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
)

// Request is a decoded, validated inbound frame. Payload is a pointer to one
// of the payload structs in this package, chosen by Type.
type Request struct {
	ID      string
	Type    string
	Payload any
}

var payloadTypes = map[string]func() any{
	TypeSendRequest:    func() any { return &SendRequest{} },
	TypeCancelRequest:  func() any { return &CancelRequest{} },
	TypeAcceptRequest:  func() any { return &AcceptRequest{} },
	TypeRefuseRequest:  func() any { return &RefuseRequest{} },
	TypeRemoveFriend:   func() any { return &RemoveFriend{} },
	TypePostMessage:    func() any { return &PostMessage{} },
	TypeEditMessage:    func() any { return &EditMessage{} },
	TypeRemoveMessage:  func() any { return &RemoveMessage{} },
	TypeReactToMessage: func() any { return &ReactToMessage{} },
	TypeMarkRead:       func() any { return &MarkRead{} },
	TypeClearChannel:   func() any { return &ClearChannel{} },
	TypeRejoin:         func() any { return &Rejoin{} },
}

// KnownType reports whether t is an inbound event type.
func KnownType(t string) bool {
	_, ok := payloadTypes[t]
	return ok
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses and validates a raw inbound frame. On failure the returned
// Request still carries the envelope ID when it could be recovered, so the
// error can be correlated by the client.
func Decode(raw []byte) (*Request, error) {
	var env Inbound
	if err := decodeStrict(raw, &env); err != nil {
		req := &Request{}
		var loose struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &loose) == nil {
			req.ID = loose.ID
		}
		return req, apperr.Validation("malformed frame: " + err.Error())
	}

	req := &Request{ID: env.ID, Type: env.Type}
	if err := Validate(&env); err != nil {
		return req, err
	}

	newPayload, ok := payloadTypes[env.Type]
	if !ok {
		return req, apperr.Validation(fmt.Sprintf("type: unknown event %q", env.Type))
	}

	payload := newPayload()
	data := env.Data
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	if err := decodeStrict(data, payload); err != nil {
		return req, apperr.Validation("data: " + err.Error())
	}
	if err := Validate(payload); err != nil {
		return req, err
	}
	req.Payload = payload
	return req, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// Validate checks v's struct tags and returns an apperr validation error
// listing every failing field, or nil.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err.Error())
	}
	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, describe(fe))
	}
	return apperr.Validation(issues...)
}

func describe(fe validator.FieldError) string {
	// Drop the root struct name: "PostMessage.content" -> "content".
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + ": is required"
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", field, fe.Param())
	}
	return fmt.Sprintf("%s: failed %q", field, fe.Tag())
}
