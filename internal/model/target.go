package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultSendOutHour   = "12"
	DefaultSendOutMinute = "00"
)

// Target is a registered destination for digests. Identity is ID.
type Target struct {
	ID             string
	Destination    string
	Name           string
	Icon           string
	Mention        string
	SendOutHour    string
	SendOutMinute  string
	RepeatInterval Cadence
}

// NewTarget builds the default record used on first registration.
func NewTarget(id, destination, name, icon, mention string) Target {
	return Target{
		ID:             id,
		Destination:    destination,
		Name:           name,
		Icon:           icon,
		Mention:        mention,
		SendOutHour:    DefaultSendOutHour,
		SendOutMinute:  DefaultSendOutMinute,
		RepeatInterval: CadenceInstant,
	}
}

// ValidationError names the first rule a field broke.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

var destinationSchemes = map[string]bool{"http": true, "https": true, "telegram": true}

// ValidateTarget checks a target before it is stored. Every broken rule is
// reported, joined.
func ValidateTarget(t Target) error {
	var errs []error
	if strings.TrimSpace(t.ID) == "" && strings.TrimSpace(t.Destination) == "" {
		errs = append(errs, &ValidationError{Field: "id", Reason: "id or destination required"})
	}
	if err := validateDestination(t.Destination); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, &ValidationError{Field: "name", Reason: "must not be empty"})
	}
	if t.Icon != "" && !(len(t.Icon) >= 2 && strings.HasPrefix(t.Icon, ":") && strings.HasSuffix(t.Icon, ":")) {
		errs = append(errs, &ValidationError{Field: "icon", Reason: "must look like :emoji:"})
	}
	if t.Mention != "" && !strings.HasPrefix(t.Mention, "@") {
		errs = append(errs, &ValidationError{Field: "mention", Reason: "must start with @"})
	}
	if t.SendOutHour != "" {
		if _, ok := atoiRange(t.SendOutHour, 0, 23); !ok {
			errs = append(errs, &ValidationError{Field: "sendOutHour", Reason: fmt.Sprintf("%q not in 0..23", t.SendOutHour)})
		}
	}
	if t.SendOutMinute != "" {
		if _, ok := atoiRange(t.SendOutMinute, 0, 59); !ok {
			errs = append(errs, &ValidationError{Field: "sendOutMinute", Reason: fmt.Sprintf("%q not in 0..59", t.SendOutMinute)})
		}
	}
	if t.RepeatInterval != "" {
		if _, err := ParseCadence(string(t.RepeatInterval)); err != nil {
			errs = append(errs, &ValidationError{Field: "repeatInterval", Reason: err.Error()})
		}
	}
	return errors.Join(errs...)
}

func validateDestination(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &ValidationError{Field: "destination", Reason: err.Error()}
	}
	if !destinationSchemes[strings.ToLower(u.Scheme)] {
		return &ValidationError{Field: "destination", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return &ValidationError{Field: "destination", Reason: "missing host"}
	}
	return nil
}

// atoiRange parses a small decimal ("9", "09") and checks lo <= n <= hi.
func atoiRange(s string, lo, hi int) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, n >= lo && n <= hi
}

// SendOut returns the configured hour and minute. Unparseable values fall
// back to the defaults (12:00).
func (t Target) SendOut() (hour, minute int) {
	hour, ok := atoiRange(t.SendOutHour, 0, 23)
	if !ok {
		hour = 12
	}
	minute, ok = atoiRange(t.SendOutMinute, 0, 59)
	if !ok {
		minute = 0
	}
	return hour, minute
}
