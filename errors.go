package video_fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvableSource means no provider could turn the input into something downloadable.
	ErrUnresolvableSource = errors.New("unresolvable source")
	// ErrAcquisitionFailed means the master artifact could not be downloaded.
	ErrAcquisitionFailed = errors.New("acquisition failed")
	// ErrDerivationFailed means a variant could not be produced from the master artifact.
	ErrDerivationFailed = errors.New("derivation failed")
	// ErrRateLimited is returned when a chat submits again inside its cooldown window.
	ErrRateLimited = errors.New("rate limited")
	// ErrPersistenceFailed means usage counters could not be written. It is only ever logged.
	ErrPersistenceFailed = errors.New("persistence failed")
)

type UnresolvableSourceError struct {
	Input string
	Err   error
}

func (e *UnresolvableSourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot resolve %q", e.Input)
	}
	return fmt.Sprintf("cannot resolve %q: %v", e.Input, e.Err)
}

func (e *UnresolvableSourceError) Unwrap() error {
	return e.Err
}

func (e *UnresolvableSourceError) Is(target error) bool {
	return target == ErrUnresolvableSource
}

type AcquisitionError struct {
	Fingerprint Fingerprint
	Err         error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Fingerprint.Short(), e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

func (e *AcquisitionError) Is(target error) bool {
	return target == ErrAcquisitionFailed
}

type DerivationError struct {
	MasterPath string
	Variant    Variant
	Err        error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("derive %s from %s: %v", e.Variant, e.MasterPath, e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}

func (e *DerivationError) Is(target error) bool {
	return target == ErrDerivationFailed
}

type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist usage counters: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailed
}
