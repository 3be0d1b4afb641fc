package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	entryFields := make(map[string]any, len(fields)+3)
	maps.Copy(entryFields, fields)
	entryFields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", entryFields)

	err := fn()

	entryFields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		entryFields["error"] = err.Error()
		tflog.SubsystemError(ctx, subsystem, "Operation failed", entryFields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", entryFields)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	errFields := make(map[string]any, len(fields)+5)
	maps.Copy(errFields, fields)

	errFields["operation"] = operation
	errFields["error"] = err.Error()
	errFields["category"] = string(GetErrorCategory(err))

	// Add LDAP-specific error information if available
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		errFields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			errFields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			errFields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", SanitizeFields(errFields))
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_established", "authentication_success", "rebind_success":
		tflog.SubsystemInfo(ctx, "ldap", "Connection event", fields)
	case "connection_failed", "authentication_failed", "connection_lost", "rebind_failed":
		tflog.SubsystemError(ctx, "ldap", "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, "ldap", "Connection event", fields)
	}
}

// LogPoolEvent logs server pool events.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "pool_initialized", "connection_released":
		tflog.SubsystemDebug(ctx, "pool", "Pool event", fields)
	case "pool_exhausted", "connection_failed":
		tflog.SubsystemWarn(ctx, "pool", "Pool event", fields)
	case "all_connections_failed", "authentication_rejected":
		tflog.SubsystemError(ctx, "pool", "Pool event", fields)
	default:
		tflog.SubsystemTrace(ctx, "pool", "Pool event", fields)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":    true,
		"passwd":      true,
		"bindpasswd":  true,
		"secret":      true,
		"credential":  true,
		"credentials": true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}

		// Check if the value contains sensitive patterns
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}

		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}
