// Package model contains domain models passed between layers.
package model

import (
	"errors"
)

// Collection names a server-owned collection mirrored locally.
type Collection string

const (
	CollectionRaces        Collection = "races"
	CollectionApplications Collection = "applications"
)

// Roles accepted by the credential endpoint.
const (
	RoleApplicant     = "Applicant"
	RoleAdministrator = "Administrator"
)

// UnknownRaceName is rendered for an application whose race cannot be resolved.
const UnknownRaceName = "unknown"

// Validation errors for local input.
var (
	ErrEmptyName       = errors.New("name is required")
	ErrUnknownDistance = errors.New("unknown distance")
	ErrEmptyRaceID     = errors.New("race is required")
	ErrEmptyFirstName  = errors.New("first name is required")
	ErrEmptyLastName   = errors.New("last name is required")
	ErrEmptyPatch      = errors.New("nothing to update")
)
