// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/tcpbridge/bridge"
)

// Reply is the answer to one received frame.
type Reply struct {
	// Line is written back without its delimiter.
	Line string

	// HangUp closes the connection after Line is sent.
	HangUp bool
}

// Accepted reports whether the reply acknowledges a payload.
func (r Reply) Accepted() bool { return r.Line == "+OK" }

// Rejected reports whether the reply is an error line.
func (r Reply) Rejected() bool { return strings.HasPrefix(r.Line, "-ERR") }

// Decoder turns a raw frame, delimiter already removed by the
// scanner, into a payload.
type Decoder func(frame []byte) (string, error)

// Responder builds the reply for a payload and the error, if any,
// from the earlier stages.
type Responder func(payload string, err error) Reply

// Pipeline handles every frame in three fixed stages: Decode, then
// Validate (skipped for the sentinel), then Respond.
type Pipeline struct {
	Decode   Decoder
	Validate Validator
	Respond  Responder
}

// NewPipeline returns the standard pipeline: UTF-8 line decoding,
// rejection of empty lines followed by validate (when non-nil), and
// the +OK / -ERR / +BYE responder.
func NewPipeline(validate Validator) Pipeline {
	validators := []Validator{RequireNonEmpty}
	if validate != nil {
		validators = append(validators, validate)
	}
	return Pipeline{
		Decode:   DecodeLine,
		Validate: Chain(validators...),
		Respond:  RespondLine,
	}
}

// Handle runs frame through the stages.
func (p Pipeline) Handle(frame []byte) Reply {
	payload, err := p.Decode(frame)
	if err == nil && p.Validate != nil && !(bridge.Message{Payload: payload}).IsTerminal() {
		err = p.Validate(payload)
	}
	return p.Respond(payload, err)
}

// DecodeLine strips an optional trailing carriage return and requires
// valid UTF-8.
func DecodeLine(frame []byte) (string, error) {
	if !utf8.Valid(frame) {
		return "", errors.New("invalid UTF-8")
	}
	return strings.TrimSuffix(string(frame), "\r"), nil
}

// RequireNonEmpty rejects the empty payload.
func RequireNonEmpty(payload string) error {
	if payload == "" {
		return errors.New("empty message")
	}
	return nil
}

// Chain runs validators in order and returns the first failure.
func Chain(validators ...Validator) Validator {
	return func(payload string) error {
		for _, validate := range validators {
			if err := validate(payload); err != nil {
				return err
			}
		}
		return nil
	}
}

// RespondLine answers errors with "-ERR <reason>", the sentinel with
// "+BYE" and a hang-up, and anything else with "+OK".
func RespondLine(payload string, err error) Reply {
	switch {
	case err != nil:
		return Reply{Line: "-ERR " + err.Error()}
	case (bridge.Message{Payload: payload}).IsTerminal():
		return Reply{Line: "+BYE", HangUp: true}
	default:
		return Reply{Line: "+OK"}
	}
}
