package api

import (
	"errors"
	"fmt"
)

// Kind identifies a failure category, enabling callers to branch on
// the class of error without parsing message text. Service-reported
// codes map to kinds through codeKinds; everything the service does
// not recognize falls back to KindAPI.
type Kind int

const (
	// KindAPI is the catch-all for service errors with an
	// unrecognized code.
	KindAPI Kind = iota

	// Client-side kinds, never reported by the service.

	// KindConnection is a network failure that persisted through
	// every retry attempt.
	KindConnection
	// KindDecode is a response body that was not valid JSON when
	// JSON was expected.
	KindDecode
	// KindInputNotFound is a local source file that does not exist.
	KindInputNotFound
	// KindOutputWrite is a local destination write failure.
	KindOutputWrite
	// KindTaskNotRunning is a conversion task that the service
	// reported as not running when the workflow required it to be.
	KindTaskNotRunning

	// Service-reported kinds, keyed by error code.

	KindInternalServer
	KindNotFound
	KindPostMethodAllowed
	KindOnlyDevelopmentRequest
	KindFileNotExists

	KindMissingAuthorizationHeader
	KindInvalidAuthorizationHeader
	KindInvalidCredential
	KindDisabledCredential
	KindMismatchAppToken

	KindMissingRequiredField
	KindInvalidField
	KindWrongTypeField
	KindEmptyField

	KindMissingRequiredDataKey
	KindInvalidDataKey
	KindWrongTypeDataKey
	KindEmptyDataKey

	KindMissingRequiredParameter
	KindInvalidParameter
	KindWrongTypeParameter
	KindEmptyParameter
	KindInvalidParameterValue

	KindFreePlanDisallowed
	KindInsufficientVCredits
	KindDailyLimitExceeded
	KindFileSizeLimitExceeded

	KindInvalidFormat
	KindInvalidInputFormat
	KindInvalidOutputFormat
	KindNoConvertGraph
	KindFormatMismatch
	KindExtensionFormatMismatch

	KindNoAnyTask
	KindNoRunningTask
	KindNotSoonTask
	KindWrongTask
	KindNotReadyTask
	KindOnlyAsyncMode
	KindTaskTimeout

	KindDownloadExpired
	KindInvalidCallback
	KindUnverifiedDomainCallback
)

// codeKinds maps every known service error code to its Kind.
// Unlisted codes resolve to KindAPI.
var codeKinds = map[string]Kind{
	"INTERNAL_SERVER_ERROR":          KindInternalServer,
	"NOT_FOUND":                      KindNotFound,
	"POST_METHOD_ALLOWED":            KindPostMethodAllowed,
	"ONLY_DEVELOPMENT_REQUEST":       KindOnlyDevelopmentRequest,
	"FILE_NOT_EXISTS":                KindFileNotExists,
	"MISSING_AUTHORIZATION_HEADER":   KindMissingAuthorizationHeader,
	"INVALID_AUTHORIZATION_HEADER":   KindInvalidAuthorizationHeader,
	"INVALID_CREDENTIAL":             KindInvalidCredential,
	"DISABLED_CREDENTIAL":            KindDisabledCredential,
	"MISMATCH_APP_TOKEN":             KindMismatchAppToken,
	"MISSING_REQUIRED_FIELD":         KindMissingRequiredField,
	"INVALID_FIELD":                  KindInvalidField,
	"WRONG_TYPE_FIELD":               KindWrongTypeField,
	"EMPTY_FIELD":                    KindEmptyField,
	"MISSING_REQUIRED_DATA_KEY":      KindMissingRequiredDataKey,
	"INVALID_DATA_KEY":               KindInvalidDataKey,
	"WRONG_TYPE_DATA_KEY":            KindWrongTypeDataKey,
	"EMPTY_DATA_KEY":                 KindEmptyDataKey,
	"MISSING_REQUIRED_PARAMETER":     KindMissingRequiredParameter,
	"INVALID_PARAMETER":              KindInvalidParameter,
	"WRONG_TYPE_PARAMETER":           KindWrongTypeParameter,
	"EMPTY_PARAMETER":                KindEmptyParameter,
	"INVALID_PARAMETER_VALUE":        KindInvalidParameterValue,
	"FREE_PLAN_DISALLOWED":           KindFreePlanDisallowed,
	"INSUFFICIENT_VCREDITS":          KindInsufficientVCredits,
	"DAILY_LIMIT_EXCEEDED":           KindDailyLimitExceeded,
	"FILE_SIZE_LIMIT_EXCEEDED":       KindFileSizeLimitExceeded,
	"INVALID_FORMAT":                 KindInvalidFormat,
	"INVALID_INPUT_FORMAT":           KindInvalidInputFormat,
	"INVALID_OUTPUT_FORMAT":          KindInvalidOutputFormat,
	"NO_CONVERT_GRAPH":               KindNoConvertGraph,
	"FORMAT_MISMATCH":                KindFormatMismatch,
	"NOT_MATCH_EXTENSION_AND_FORMAT": KindExtensionFormatMismatch,
	"NO_ANY_TASK":                    KindNoAnyTask,
	"NO_RUNNING_TASK":                KindNoRunningTask,
	"NOT_SOON_TASK":                  KindNotSoonTask,
	"WRONG_TASK":                     KindWrongTask,
	"NOT_READY_TASK":                 KindNotReadyTask,
	"ONLY_ASYNC_MODE":                KindOnlyAsyncMode,
	"TASK_TIMEOUT":                   KindTaskTimeout,
	"DOWNLOAD_EXPIRED":               KindDownloadExpired,
	"INVALID_CALLBACK":               KindInvalidCallback,
	"UNVERIFIED_DOMAIN_CALLBACK":     KindUnverifiedDomainCallback,
}

// kindNames provides human-readable names for log output and
// Error messages.
var kindNames = map[Kind]string{
	KindAPI:            "api error",
	KindConnection:     "connection failure",
	KindDecode:         "response decode failure",
	KindInputNotFound:  "input file not found",
	KindOutputWrite:    "output write failure",
	KindTaskNotRunning: "task not running",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	for code, kind := range codeKinds {
		if kind == k {
			return code
		}
	}

	return "api error"
}

// Error is the single error type carried across the client: a
// failure kind plus the service-reported code and message when one
// exists, wrapping the underlying cause when one exists.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Code != "":
		return e.Code
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// kindOfCode resolves a service error code to its Kind, defaulting
// to KindAPI for codes the table does not know.
func kindOfCode(code string) Kind {
	if kind, ok := codeKinds[code]; ok {
		return kind
	}

	return KindAPI
}

// KindOf extracts the failure Kind from err. It returns KindAPI and
// false when err does not carry an *Error.
func KindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}

	return KindAPI, false
}
