package failure

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/racesync/pkg/metrics"
)

// Symptom is everything known about a failed call.
type Symptom struct {
	Op     string // operation label used in fallback messages
	Err    error  // underlying error, if any
	Status int    // HTTP status, 0 when no response was received
	Body   []byte // raw response body
	Text   string // structured error text extracted from Body
}

// Malformed reports whether the response could not be decoded.
func (s Symptom) Malformed() bool {
	return errors.Is(s.Err, ErrMalformedResponse)
}

// Rule maps a matching symptom to a category and message.
type Rule struct {
	Name     string
	Match    func(Symptom) bool
	Category Category
	Tone     Tone
	Message  func(Symptom) string

	// CategoryOf, when set, overrides Category per symptom.
	CategoryOf func(Symptom) Category
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules []Rule
}

// New builds a classifier over the default rule table.
func New(opts ...Option) *Classifier {
	c := &Classifier{rules: DefaultRules()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rules returns a copy of the rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify maps a symptom to a failure. A symptom no rule matches falls back to a
// generic "<Op> failed." message.
func (c *Classifier) Classify(s Symptom) *Error {
	for _, r := range c.rules {
		if r.Match(s) {
			return c.build(s, r)
		}
	}
	return c.build(s, fallbackRule)
}

// ClassifyError builds a symptom from err and classifies it. Errors that are already
// classified are returned unchanged.
func (c *Classifier) ClassifyError(op string, err error) *Error {
	if fe, ok := As(err); ok {
		return fe
	}
	s := Symptom{Op: op, Err: err}
	var sc StatusCarrier
	if errors.As(err, &sc) {
		s.Status = sc.StatusCode()
		s.Body = sc.ResponseBody()
		s.Text = ExtractText(s.Body)
	}
	return c.Classify(s)
}

func (c *Classifier) build(s Symptom, r Rule) *Error {
	tone := r.Tone
	if tone == "" {
		tone = ToneError
	}
	category := r.Category
	if r.CategoryOf != nil {
		category = r.CategoryOf(s)
	}
	metrics.RecordClassifiedError(string(category))
	return &Error{
		Category: category,
		Message:  r.Message(s),
		Tone:     tone,
		Status:   s.Status,
		Op:       s.Op,
		Err:      s.Err,
	}
}

// ExtractText returns the structured error text from a JSON body, looking at the
// error, message and detail fields in that order.
func ExtractText(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"error", "message", "detail"} {
		if v, ok := fields[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// ConflictMarkers are body substrings that signal a duplicate registration.
var ConflictMarkers = []string{"already registered", "already applied", "already exists", "duplicate"}

// DefaultRules returns the default rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "transient_network",
			Match:    func(s Symptom) bool { return s.Status == 0 && IsTransient(s.Err) },
			Category: CategoryTransientNetwork,
			Message:  Static(MsgTransientNetwork),
		},
		{
			Name:     "account_not_found",
			Match:    func(s Symptom) bool { return s.Status == http.StatusUnauthorized && textContains(s, "not found") },
			Category: CategoryCredential,
			Message:  Static(MsgAccountNotFound),
		},
		{
			Name:     "wrong_role",
			Match:    func(s Symptom) bool { return s.Status == http.StatusUnauthorized && textContains(s, "role") },
			Category: CategoryCredential,
			Message:  Static(MsgWrongRole),
		},
		{
			Name: "conflict",
			Match: func(s Symptom) bool {
				for _, m := range ConflictMarkers {
					if textContains(s, m) {
						return true
					}
				}
				return false
			},
			Category: CategoryConflict,
			Tone:     ToneWarning,
			Message:  FromText,
		},
		{
			Name:       "structured_text",
			Match:      func(s Symptom) bool { return s.Text != "" },
			CategoryOf: func(s Symptom) Category { return StatusCategory(s.Status) },
			Message:    FromText,
		},
		{
			Name:     "unauthorized",
			Match:    func(s Symptom) bool { return s.Status == http.StatusUnauthorized },
			Category: CategoryCredential,
			Message:  Static(MsgCredential),
		},
		{
			Name:     "forbidden",
			Match:    func(s Symptom) bool { return s.Status == http.StatusForbidden },
			Category: CategoryAuthorization,
			Message:  Static(MsgAuthorization),
		},
		{
			Name:     "server",
			Match:    func(s Symptom) bool { return s.Status >= http.StatusInternalServerError },
			Category: CategoryServer,
			Message:  Static(MsgServer),
		},
		{
			Name:     "malformed",
			Match:    Symptom.Malformed,
			Category: CategoryGeneric,
			Message:  Static(MsgMalformed),
		},
		fallbackRule,
	}
}

var fallbackRule = Rule{
	Name:     "fallback",
	Match:    func(Symptom) bool { return true },
	Category: CategoryGeneric,
	Message:  func(s Symptom) string { return opLabel(s.Op) + " failed." },
}

// Static returns a message func that ignores the symptom.
func Static(msg string) func(Symptom) string {
	return func(Symptom) string { return msg }
}

// FromText uses the structured error text, falling back to the raw body.
func FromText(s Symptom) string {
	if s.Text != "" {
		return s.Text
	}
	return strings.TrimSpace(string(s.Body))
}

// StatusCategory maps an HTTP status to the category used when a response carried
// structured error text.
func StatusCategory(status int) Category {
	switch {
	case status == http.StatusUnauthorized:
		return CategoryCredential
	case status == http.StatusForbidden:
		return CategoryAuthorization
	case status >= http.StatusInternalServerError:
		return CategoryServer
	}
	return CategoryGeneric
}

func textContains(s Symptom, needle string) bool {
	if s.Text != "" {
		return strings.Contains(strings.ToLower(s.Text), needle)
	}
	return strings.Contains(strings.ToLower(string(s.Body)), needle)
}

func opLabel(op string) string {
	if op == "" {
		return "Request"
	}
	return op
}
