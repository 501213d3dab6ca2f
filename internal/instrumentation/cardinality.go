package instrumentation

import "strings"

// Cardinality management helpers for metrics.
// Sender addresses are unbounded; only their domain is ever used as a label,
// and only when detailed labels are enabled.

// ExtractDomain extracts the domain part from an email address.
//
// Example:
//
//	ExtractDomain("events@museum.example")  // "museum.example"
//	ExtractDomain("Museum <hi@museum.example>")  // "museum.example"
//	ExtractDomain("invalid")                // "unknown"
//	ExtractDomain("")                       // "unknown"
func ExtractDomain(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.LastIndexByte(email, '<'); i >= 0 {
		email = strings.TrimSuffix(email[i+1:], ">")
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return strings.ToLower(parts[1])
	}

	return "unknown"
}

// Operation types for API and store metrics.
// Status and service constants are defined in config.go.
const (
	OperationList        = "list"
	OperationGet         = "get"
	OperationQuery       = "query"
	OperationScan        = "scan"
	OperationPut         = "put"
	OperationCreateTable = "create_table"
	OperationExtract     = "extract"
)
