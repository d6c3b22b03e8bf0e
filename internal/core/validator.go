package core

import (
	"context"
	"regexp"
	"time"
)

// ReasonInvalidEmail is the failure reason reported for a malformed email.
const ReasonInvalidEmail = "Invalid email format"

// Verdict is a validator's answer for one record.
type Verdict struct {
	Valid  bool
	Reason string // why the record is invalid; empty when Valid
}

// Validator checks one record. It may be slow and may fail transiently; the
// pipeline calls it exactly once per record and never retries.
type Validator interface {
	Validate(ctx context.Context, rec Record) (Verdict, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, rec Record) (Verdict, error)

func (f ValidatorFunc) Validate(ctx context.Context, rec Record) (Verdict, error) {
	return f(ctx, rec)
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FormatValidator checks the email shape after an optional simulated latency,
// standing in for a remote verification service.
type FormatValidator struct {
	Delay time.Duration
}

func (v FormatValidator) Validate(ctx context.Context, rec Record) (Verdict, error) {
	if v.Delay > 0 {
		timer := time.NewTimer(v.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		case <-timer.C:
		}
	}

	if !emailPattern.MatchString(rec.Email) {
		return Verdict{Valid: false, Reason: ReasonInvalidEmail}, nil
	}
	return Verdict{Valid: true}, nil
}
