package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrTemplateUnavailable = errors.New("template not found or inactive")
	ErrJobNotFound         = errors.New("dispatch job not found")
	ErrJobFinished         = errors.New("dispatch job already finished")
	ErrRecordNotFound      = errors.New("delivery record not found")
	ErrCancelUnsupported   = errors.New("cancellation requires redis")
)

type DenialReason string

const (
	ReasonProviderInactive      DenialReason = "ProviderInactive"
	ReasonChannelDisabled       DenialReason = "ChannelDisabled"
	ReasonCategoryForbidden     DenialReason = "CategoryForbidden"
	ReasonQuotaExceeded         DenialReason = "QuotaExceeded"
	ReasonProviderLimitExceeded DenialReason = "ProviderLimitExceeded"
)

// DenialError is returned by the ledger when a reservation is refused.
type DenialError struct {
	Reason DenialReason
	Detail string
}

func (e *DenialError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Configuration reports whether the denial comes from platform or tenant
// setup rather than from the job itself. Such jobs are never persisted.
func (e *DenialError) Configuration() bool {
	return e.Reason == ReasonProviderInactive || e.Reason == ReasonChannelDisabled
}

func deny(reason DenialReason, format string, args ...any) *DenialError {
	return &DenialError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsDenial unwraps a *DenialError from err.
func AsDenial(err error) (*DenialError, bool) {
	var de *DenialError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsConfigurationError is true for ProviderInactive and ChannelDisabled.
func IsConfigurationError(err error) bool {
	de, ok := AsDenial(err)
	return ok && de.Configuration()
}
