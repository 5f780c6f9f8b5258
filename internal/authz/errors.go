package authz

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a defect in the role or policy configuration. It is never an
// authorization outcome and should abort the request.
type ConfigurationError struct {
	Kind       ResourceKind
	Capability Capability
	Role       RoleName
	Reason     string
}

func (e *ConfigurationError) Error() string {
	msg := "authz: configuration error: " + e.Reason
	if e.Kind != "" {
		msg += fmt.Sprintf(" (resource=%s", e.Kind)
		if e.Capability.Action != 0 {
			msg += " capability=" + e.Capability.String()
		}
		if e.Role != "" {
			msg += " role=" + string(e.Role)
		}
		msg += ")"
	} else if e.Role != "" {
		msg += " (role=" + string(e.Role) + ")"
	}
	return msg
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
