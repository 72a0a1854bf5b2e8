// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package uuid provides a server-side identity provider for workflow task
// ids and correlation ids. Envelope message ids are generated by the
// envelope package with github.com/google/uuid, not by this package.
package uuid

import (
	"github.com/caoyingjie21/IntelligentOutboundSystem/pkg/errors"
	"github.com/gofrs/uuid/v5"
)

// ErrGeneratingID indicates error in generating UUID.
var ErrGeneratingID = errors.New("failed to generate uuid")

// IDProvider specifies an API for generating unique identifiers.
type IDProvider interface {
	// ID generates the unique identifier.
	ID() (string, error)
}

var _ IDProvider = (*uuidProvider)(nil)

type uuidProvider struct{}

// New instantiates a UUID provider.
func New() IDProvider {
	return &uuidProvider{}
}

func (up *uuidProvider) ID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Wrap(ErrGeneratingID, err)
	}

	return id.String(), nil
}
