// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// wireValidate is the validator instance for wire messages.
var wireValidate *validator.Validate

func init() {
	wireValidate = validator.New()
	_ = wireValidate.RegisterValidation("stream", validateStream)
	_ = wireValidate.RegisterValidation("jsonobject", validateJSONObject)
	wireValidate.RegisterStructValidation(validateEventType, Event{})
}

func validateStream(fl validator.FieldLevel) bool {
	return Stream(fl.Field().String()).Valid()
}

func validateJSONObject(fl validator.FieldLevel) bool {
	raw := bytes.TrimSpace(fl.Field().Bytes())
	return len(raw) > 0 && raw[0] == '{' && json.Valid(raw)
}

// validateEventType rejects events whose type belongs to another stream.
func validateEventType(sl validator.StructLevel) {
	event := sl.Current().Interface().(Event)
	if event.Stream.Valid() && !event.Stream.Allows(event.EventType) {
		sl.ReportError(event.EventType, "EventType", "eventType", "streamevent", string(event.Stream))
	}
}

// Validate checks a message against its schema.
func Validate(msg Message) error {
	if err := wireValidate.Struct(msg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, msg.MessageType(), err)
	}
	return nil
}

// =============================================================================
// Encoding
// =============================================================================

// Encode serialises msg as one JSON frame.
//
// # Description
//
// Sets the type discriminant, then encodes without HTML escaping so the
// frame size matches jsonsize estimates. The trailing newline written by
// json.Encoder is removed.
//
// # Inputs
//
//   - msg: Any message. Its Type field is overwritten.
//
// # Outputs
//
//   - []byte: The frame.
//   - error: Non-nil if a payload value cannot be encoded.
func Encode(msg Message) ([]byte, error) {
	msg.stamp()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses and validates one frame.
//
// # Outputs
//
//   - Message: One of *Handshake, *Request, *Response, *PushEvent or
//     *ErrorMessage.
//   - error: ErrMalformedFrame for non-JSON input, ErrInvalidMessage for
//     anything that fails the schema.
func Decode(data []byte) (Message, error) {
	if !json.Valid(data) {
		return nil, ErrMalformedFrame
	}

	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var msg Message
	switch head.Type {
	case TypeHandshake:
		msg = &Handshake{}
	case TypeRequest:
		msg = &Request{}
	case TypeResponse:
		msg = &Response{}
	case TypePushEvent:
		msg = &PushEvent{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, head.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, head.Type, err)
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
