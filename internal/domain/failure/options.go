package failure

// Option configures a Classifier.
type Option func(*Classifier)

// WithRules replaces the rule table. The generic fallback still applies when no rule matches.
func WithRules(rules ...Rule) Option {
	return func(c *Classifier) {
		if len(rules) > 0 {
			c.rules = append([]Rule(nil), rules...)
		}
	}
}

// WithLeadingRules evaluates rules before the current table.
func WithLeadingRules(rules ...Rule) Option {
	return func(c *Classifier) {
		c.rules = append(append([]Rule(nil), rules...), c.rules...)
	}
}
