package mega

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy described in spec §7. Callers should use
// errors.Is against these, and errors.As against *MegaError for the
// structured variant.
var (
	// EARGS is returned when a required argument is nil or malformed.
	EARGS = errors.New("mega: invalid arguments")
	// EINVALIDLINK means the public URL shape or key length was wrong.
	EINVALIDLINK = errors.New("mega: invalid public link")
	// EINVALIDATTRS means the decrypted attribute blob had no MEGA magic.
	EINVALIDATTRS = errors.New("mega: invalid attributes")
	// EBADRESP means the server returned a response that isn't valid JSON,
	// or an array whose shape doesn't match the expected message.
	EBADRESP = errors.New("mega: invalid response format")
	// ENOENT means a path or handle lookup failed.
	ENOENT = errors.New("mega: no such node")
	// EMAXRETRIES means a retryable operation exhausted its retry budget.
	EMAXRETRIES = errors.New("mega: max retries reached")
	// EOVERQUOTA is MEGA's overquota/out-of-bandwidth signal (API code -509).
	EOVERQUOTA = errors.New("mega: over quota")
	// ECANCELLED marks a task that stopped because it was cancelled; not a
	// failure, surfaced on Inactive with no error attached.
	ECANCELLED = errors.New("mega: cancelled")
)

// MegaError wraps a structured API error code from a `cs` response (spec
// §4.3: "a successful body that is a single integer != -3 becomes
// MegaError(code)").
type MegaError struct {
	Code int
}

func (e *MegaError) Error() string {
	return fmt.Sprintf("mega: api error %d", e.Code)
}

// eagain is MEGA's API code meaning "retry the request"; it is never surfaced
// to the caller as an error.
const eagain = -3

// overquotaCode is MEGA's API code for an over-quota/out-of-bandwidth signal.
const overquotaCode = -509

// parseAPICode maps a raw integer response body to the appropriate sentinel
// or structured error. A caller that sees eagain should retry instead of
// calling this.
func parseAPICode(code int) error {
	switch code {
	case overquotaCode:
		return EOVERQUOTA
	default:
		return &MegaError{Code: code}
	}
}
