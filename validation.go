package postbox

import "fmt"

// MailLimits holds mail validation limits.
// Used to pass limits to validation functions.
type MailLimits struct {
	MaxBodySize  int
	MaxReceivers int
}

// DefaultLimits returns the default mail limits.
func DefaultLimits() MailLimits {
	return MailLimits{
		MaxBodySize:  DefaultMaxBodySize,
		MaxReceivers: DefaultMaxReceivers,
	}
}

// ValidateBody validates a mail body against configurable limits.
// An empty body is allowed; only the size is constrained.
func ValidateBody(body string, limits MailLimits) error {
	if len(body) > limits.MaxBodySize {
		return fmt.Errorf("%w: body size %d exceeds max %d bytes", ErrBodyTooLarge, len(body), limits.MaxBodySize)
	}
	return nil
}

// ValidateReceivers validates a receiver list for a direct send.
// Emptiness is checked by the caller (it carries the sender in the error);
// this checks count and per-receiver ID validity.
func ValidateReceivers(receivers []string, limits MailLimits) error {
	if len(receivers) > limits.MaxReceivers {
		return fmt.Errorf("%w: %d receivers exceeds max %d", ErrTooManyReceivers, len(receivers), limits.MaxReceivers)
	}
	for _, r := range receivers {
		if !isValidUserID(r) {
			return fmt.Errorf("%w: %q", ErrInvalidReceiver, r)
		}
	}
	return nil
}

// isValidUserID checks if a user ID is valid.
// Valid user IDs are non-empty and contain only safe characters.
// This prevents key injection and other security issues downstream.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	// Allow alphanumeric, hyphen, underscore, period, at-sign
	// Disallow: *, :, /, \, spaces, and control characters
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}
