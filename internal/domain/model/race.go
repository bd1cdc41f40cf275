package model

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Distance is the closed set of race distances.
type Distance string

const (
	Distance5K           Distance = "5k"
	Distance10K          Distance = "10k"
	DistanceHalfMarathon Distance = "HalfMarathon"
	DistanceMarathon     Distance = "Marathon"
)

// Distances lists every known distance in ascending length.
func Distances() []Distance {
	return []Distance{Distance5K, Distance10K, DistanceHalfMarathon, DistanceMarathon}
}

// Valid reports whether d is a known distance.
func (d Distance) Valid() bool {
	switch d {
	case Distance5K, Distance10K, DistanceHalfMarathon, DistanceMarathon:
		return true
	}
	return false
}

// ParseDistance parses s into a Distance.
func ParseDistance(s string) (Distance, error) {
	d := Distance(strings.TrimSpace(s))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDistance, s)
	}
	return d, nil
}

// Race is a race listed by the backend.
type Race struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Distance Distance `json:"distance"`
}

// Key returns the identity of the race.
func (r Race) Key() string { return r.ID }

// RaceDraft is the local input for a new race.
type RaceDraft struct {
	Name     string   `json:"name"`
	Distance Distance `json:"distance"`
}

// Validate trims the draft and checks required fields.
func (d *RaceDraft) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return ErrEmptyName
	}
	if !d.Distance.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDistance, d.Distance)
	}
	return nil
}

// RacePatch carries the fields of a partial race update. Nil fields are left unchanged.
type RacePatch struct {
	Name     *string   `json:"name,omitempty"`
	Distance *Distance `json:"distance,omitempty"`
}

// Validate trims the patch and checks the fields it sets.
func (p *RacePatch) Validate() error {
	if p.Name == nil && p.Distance == nil {
		return ErrEmptyPatch
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return ErrEmptyName
		}
		p.Name = &name
	}
	if p.Distance != nil && !p.Distance.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDistance, *p.Distance)
	}
	return nil
}

// Apply returns r with the patch applied.
func (p RacePatch) Apply(r Race) Race {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Distance != nil {
		r.Distance = *p.Distance
	}
	return r
}

// RaceOrder returns a comparator ordering races by name using English collation.
// Comparison is case-sensitive at the tertiary level. Each comparator owns a
// collator guarded by its own mutex.
func RaceOrder() func(a, b Race) int {
	var mu sync.Mutex
	c := collate.New(language.English)
	return func(a, b Race) int {
		mu.Lock()
		defer mu.Unlock()
		return c.CompareString(a.Name, b.Name)
	}
}
