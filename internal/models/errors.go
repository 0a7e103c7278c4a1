package models

import (
	"errors"
	"fmt"
)

// Configuration errors. They are detected while drafting or starting a campaign,
// before any request is sent.
var (
	ErrMalformedTemplate = errors.New("malformed template: unbalanced markers")
	ErrNoPositions       = errors.New("template has no insertion positions")
	ErrUnboundPosition   = errors.New("position has no payload set bound")
	ErrDuplicateBinding  = errors.New("position is bound more than once")
	ErrEmptyPayloadSet   = errors.New("payload set is empty")
	ErrTooFewPositions   = errors.New("attack type requires more positions")
	ErrInvalidAttackType = errors.New("invalid attack type")
	ErrInvalidSettings   = errors.New("invalid campaign settings")
	ErrTooManyRequests   = errors.New("campaign exceeds the request limit")
	ErrTemplateTooLarge  = errors.New("template exceeds the size or position limit")
	ErrUnknownCatalog    = errors.New("unknown payload catalog")
	ErrInvalidRange      = errors.New("invalid numeric range")
)

// Control errors. The campaign state is left unchanged when one is returned.
var (
	ErrInvalidTransition = errors.New("invalid campaign state transition")
	ErrCampaignNotFound  = errors.New("campaign not found")
)

// ConfigError marks a configuration failure and records where it was detected.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConfigErr wraps err as a ConfigError. Extra detail can be attached through format/args.
func ConfigErr(op string, err error, format string, args ...interface{}) error {
	if format != "" {
		err = fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
	}
	return &ConfigError{Op: op, Err: err}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
