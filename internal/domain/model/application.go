package model

import (
	"strings"
)

// Application is a registration of a user for a race.
// RaceID is resolved at render time; a dangling reference is tolerated.
type Application struct {
	ID        string  `json:"id"`
	RaceID    string  `json:"raceId"`
	UserID    string  `json:"userId,omitempty"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email,omitempty"`
	Club      *string `json:"club,omitempty"`
}

// Key returns the identity of the application.
func (a Application) Key() string { return a.ID }

// RegistrationForm is the local input for a new application.
type RegistrationForm struct {
	RaceID    string  `json:"raceId"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Club      *string `json:"club,omitempty"`
}

// Validate trims the form and checks required fields. An empty club is dropped.
func (f *RegistrationForm) Validate() error {
	f.RaceID = strings.TrimSpace(f.RaceID)
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	if f.Club != nil {
		club := strings.TrimSpace(*f.Club)
		if club == "" {
			f.Club = nil
		} else {
			f.Club = &club
		}
	}
	switch {
	case f.RaceID == "":
		return ErrEmptyRaceID
	case f.FirstName == "":
		return ErrEmptyFirstName
	case f.LastName == "":
		return ErrEmptyLastName
	}
	return nil
}

// Application builds the speculative application for the form.
func (f RegistrationForm) Application(id, email string) Application {
	return Application{
		ID:        id,
		RaceID:    f.RaceID,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     email,
		Club:      f.Club,
	}
}

// Requester identifies who submitted a registration.
type Requester struct {
	Email     string
	FirstName string
	LastName  string
}

// Owns reports whether a belongs to the requester. Email wins when both sides carry
// one; otherwise first and last names are compared case-insensitively.
func (r Requester) Owns(a Application) bool {
	if r.Email != "" && a.Email != "" {
		return strings.EqualFold(r.Email, a.Email)
	}
	return strings.EqualFold(r.FirstName, a.FirstName) && strings.EqualFold(r.LastName, a.LastName)
}
