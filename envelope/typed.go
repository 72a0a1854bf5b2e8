// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package envelope

import "github.com/caoyingjie21/IntelligentOutboundSystem/pkg/errors"

// Typed pairs an Envelope with its already-decoded payload of type T. The
// Bus Client's subscribe_typed operation (§4.4) hands one of these to
// handlers so they never touch json.RawMessage directly.
type Typed[T any] struct {
	Envelope
	Payload T
}

// DecodeTyped decodes e's Data into a Typed[T], copying the envelope's
// metadata alongside the typed payload.
func DecodeTyped[T any](e Envelope) (Typed[T], error) {
	var payload T
	if err := e.Decode(&payload); err != nil {
		return Typed[T]{}, errors.Wrap(ErrDecode, err)
	}
	return Typed[T]{Envelope: e, Payload: payload}, nil
}
