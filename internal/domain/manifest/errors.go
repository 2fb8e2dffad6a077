package manifest

import "errors"

// Distinct, non-recovered load rejection reasons. Each is reported verbatim
// by the loader; none is retried or coerced into another kind.
var (
	ErrMalformed        = errors.New("manifest: malformed descriptor")
	ErrAPIVersionTooNew = errors.New("manifest: api_version exceeds host API version")
	ErrTamperDetected   = errors.New("manifest: tamper hash mismatch")
	ErrInvalidVersion   = errors.New("manifest: version is not a valid semantic version")
)
