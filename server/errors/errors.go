// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package errors

import (
	"errors"
)

type DetailedError struct {
	err     error
	details string
	worker  int
	hasID   bool
}

func (d *DetailedError) Error() string {
	return d.err.Error()
}

// Unwrap exposes the sentinel so errors.Is works on a detailed copy.
func (d *DetailedError) Unwrap() error {
	return d.err
}

// WithDetail returns a copy of the error carrying detail. Sentinels stay untouched
// because many workers use them concurrently.
func (d *DetailedError) WithDetail(detail string) *DetailedError {
	if d == nil {
		return nil
	}

	cp := *d
	cp.err = d
	cp.details = detail

	return &cp
}

// WithWorker returns a copy of the error bound to a worker index.
func (d *DetailedError) WithWorker(worker int) *DetailedError {
	if d == nil {
		return nil
	}

	cp := *d
	cp.err = d
	cp.worker = worker
	cp.hasID = true

	return &cp
}

func (d *DetailedError) GetDetails() string {
	return d.details
}

// GetWorker returns the worker index and whether one was set.
func (d *DetailedError) GetWorker() (int, bool) {
	return d.worker, d.hasID
}

func NewDetailedError(err string) *DetailedError {
	return &DetailedError{err: errors.New(err)}
}

// config.

var (
	ErrWrongVerboseLevel = errors.New("wrong verbose level")
	ErrUnknownBackend    = errors.New("unknown registry backend")
	ErrNoToken           = errors.New("no bearer token source configured")
	ErrTooManyTokens     = errors.New("more than one bearer token source configured")
	ErrEmptyToken        = errors.New("bearer token is empty")
	ErrEvalscriptEmpty   = errors.New("evalscript is empty")
	ErrInvalidBBox       = errors.New("bbox needs exactly four coordinates")
)

// worker.

var (
	ErrInvalidRetryAfter = errors.New("invalid retry-after header")
	ErrRetryBudget       = errors.New("retry wait budget exceeded")
	ErrUnknownOutcome    = errors.New("unknown outcome")
)

// transport.

var (
	ErrRequestBuild = NewDetailedError("request_build_error")
	ErrTransport    = NewDetailedError("transport_error")
	ErrWorkerPanic  = NewDetailedError("worker_panic")
)
