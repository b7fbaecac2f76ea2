package models

import (
	"errors"
	"fmt"
)

// Configuration and connectivity failures. They are surfaced immediately and never retried here.
var (
	ErrConnectionUnavailable = errors.New("chain connection unavailable")
	ErrRuntimeUnavailable    = errors.New("chain runtime metadata unavailable")
)

// Quote infeasibility.
var (
	ErrQuoteCalcFailed = errors.New("quote calculation failed")
	ErrNoRoute         = errors.New("pair is not tradable")
)

// ErrInvalidArgs marks requests rejected before any remote state is read.
var ErrInvalidArgs = errors.New("invalid arguments")

var (
	ErrSyncFailed     = errors.New("remote state sync failed")
	ErrDataCorruption = errors.New("remote state is corrupted")
	ErrCancelled      = errors.New("operation cancelled")
)

// RemoteAssetNotFoundError is returned when a pool holds no state for an asset that a quote needs.
type RemoteAssetNotFoundError struct {
	Asset RemoteAssetID
}

func (e *RemoteAssetNotFoundError) Error() string {
	return fmt.Sprintf("remote asset %d not found", e.Asset)
}

// AssetMappingError is returned when a local asset has no remote counterpart (or the other way round).
type AssetMappingError struct {
	Asset string
}

func (e *AssetMappingError) Error() string {
	return fmt.Sprintf("asset %s can't be mapped to a remote asset", e.Asset)
}

// RuntimeError marks an arithmetic precondition the caller can't fix by retrying, e.g. a fee of 100% or more.
type RuntimeError struct {
	Reason string
}

func (e *RuntimeError) Error() string {
	return "runtime error: " + e.Reason
}

// SubmissionStage names the transaction of a possibly two step submission.
type SubmissionStage string

const (
	StageFeeCurrency SubmissionStage = "fee_currency"
	StageSwap        SubmissionStage = "swap"
)

// SubmissionError wraps a failure to build, sign or submit one of the swap transactions.
type SubmissionError struct {
	Stage SubmissionStage
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s submission failed: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// IsQuoteInfeasible reports whether err means "no price available" rather than a system fault.
func IsQuoteInfeasible(err error) bool {
	var runtimeErr *RuntimeError
	return errors.Is(err, ErrQuoteCalcFailed) || errors.Is(err, ErrNoRoute) || errors.As(err, &runtimeErr)
}
