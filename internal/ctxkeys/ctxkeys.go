// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ctxkeys defines typed context keys used across packages.
package ctxkeys

// Identity is the context key for the authenticated identity.
type Identity struct{}

// Device is the context key for the client device metadata.
type Device struct{}
