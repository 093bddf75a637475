package errors

// Template defines a registered error type.
type Template struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Decode errors (D001-D009)
	"D001": {
		Category: CategoryDecode,
		Message:  "Malformed envelope",
	},
	"D002": {
		Category: CategoryDecode,
		Message:  "Unknown payload format",
	},

	// Dispatch errors (D010-D019)
	"D010": {
		Category: CategoryDispatch,
		Message:  "Unknown envelope type",
	},
	"D011": {
		Category: CategoryDispatch,
		Message:  "Handler failed",
	},
	"D012": {
		Category: CategoryDispatch,
		Message:  "Script evaluation disabled",
		Detail:   "The client was started without a trusted script evaluator.",
	},
	"D013": {
		Category: CategoryDispatch,
		Message:  "Collaborator not configured",
	},

	// Transport errors (D030-D039)
	"D030": {
		Category: CategoryTransport,
		Message:  "Connection not open",
	},
	"D031": {
		Category: CategoryTransport,
		Message:  "Dial failed",
	},

	// Config errors (C001-C009)
	"C001": {
		Category: CategoryConfig,
		Message:  "Config file unreadable",
	},
	"C002": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},
}

// Lookup returns the template for a code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

// Codes returns every registered code.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}
