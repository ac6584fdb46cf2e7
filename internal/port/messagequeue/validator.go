package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type schema interface{ check() error }

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Subjects outside the relay's
// groups only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target schema
	switch {
	case hasSegment(subject, SubjectEvents), hasSegment(subject, SubjectWebhooks):
		target = &EventPayload{}
	case strings.HasSuffix(subject, "."+SubjectRegistration):
		target = &RegistrationCompletedPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if err := target.check(); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}

// hasSegment reports whether seg appears as a dot-delimited subject token
// after the prefix.
func hasSegment(subject, seg string) bool {
	parts := strings.Split(subject, ".")
	for _, p := range parts[1:] {
		if p == seg {
			return true
		}
	}
	return false
}

func errMissing(field string) error { return errors.New(field + " is required") }

func errInvalid(reason string) error { return errors.New(reason) }
