package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// InsufficientData indicates a required input was empty
	InsufficientData ErrorCode = "INSUFFICIENT_DATA"
	// FeatureMismatch indicates feature names disagree with the fitted scaler
	FeatureMismatch ErrorCode = "FEATURE_MISMATCH"
	// EmbeddingFailed indicates the embedding provider could not produce a vector
	EmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
	// ModelNotFit indicates a clusterer or scaler was used before fitting
	ModelNotFit ErrorCode = "MODEL_NOT_FIT"
	// ClusterNotFound indicates an unknown cluster id
	ClusterNotFound ErrorCode = "CLUSTER_NOT_FOUND"
	// InvalidTimeRange indicates since >= until
	InvalidTimeRange ErrorCode = "INVALID_TIME_RANGE"
	// InvalidDisclosureDate indicates a missing or unparseable disclosure date
	InvalidDisclosureDate ErrorCode = "INVALID_DISCLOSURE_DATE"
	// TemporalLeakage indicates post-cutoff records reached a prediction
	TemporalLeakage ErrorCode = "TEMPORAL_LEAKAGE"
	// StaleModel indicates a model or scaler version no longer matches
	StaleModel ErrorCode = "STALE_MODEL"
	// ConfigInvalid indicates a configuration value is missing or out of range
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// RateLimited indicates the upstream provider throttled the request
	RateLimited ErrorCode = "RATE_LIMITED"
	// Timeout indicates the call exceeded its deadline
	Timeout ErrorCode = "TIMEOUT"
	// BackendUnavailable indicates a collector or store is not reachable
	BackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests changing a configuration value
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Field       string        `json:"field,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
}

// PrecursorError represents an error with code, message, and suggestions
type PrecursorError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a PrecursorError with the default fixes for its code.
func New(code ErrorCode, message string, cause error) *PrecursorError {
	return &PrecursorError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *PrecursorError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *PrecursorError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *PrecursorError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *PrecursorError) WithDetails(details interface{}) *PrecursorError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first PrecursorError in err's chain,
// or InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var pe *PrecursorError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return InternalError
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var pe *PrecursorError
		if !stderrors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.cause
	}
	return false
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ModelNotFit: {
		{
			Type:        RunCommand,
			Command:     "precursor fit --cases <cases.toml> --signals <dir>",
			Safe:        true,
			Description: "Fit a model over historical cases before scoring",
		},
	},
	StaleModel: {
		{
			Type:        RunCommand,
			Command:     "precursor fit --cases <cases.toml> --signals <dir>",
			Safe:        true,
			Description: "Refit so the scaler and clusterer share one version",
		},
	},
	FeatureMismatch: {
		{
			Type:        RunCommand,
			Command:     "precursor fit --cases <cases.toml> --signals <dir>",
			Safe:        true,
			Description: "Feature set changed since the scaler was fitted; refit",
		},
	},
	EmbeddingFailed: {
		{
			Type:        EditConfig,
			Field:       "embedding.fallback",
			Description: "Set to \"zero-vector\" to score without semantic features when the provider fails",
		},
	},
	RateLimited: {
		{
			Type:        EditConfig,
			Field:       "embedding.requestsPerSecond",
			Description: "Lower the embedding request rate",
		},
	},
	ConfigInvalid: {
		{
			Type:        EditConfig,
			Field:       "scoring.maxDistance",
			Description: "Set a calibrated distance ceiling for the fitted feature space",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
