// Package errors provides coded, actionable errors for duplex.
//
// Every error carries a short code (e.g. "D010") that maps to a registered
// message, category and explanation. Codes are stable and are what a remote
// peer sees in the "error" field of a failed reply:
//
//	{"type":"ws_action","action":"c2","error":{"code":"D010","message":"Unknown envelope type"},...}
//
// # Error Categories
//
//   - decode: inbound payloads that cannot be turned into an envelope
//   - dispatch: lookup and handler failures
//   - encoding: replies that cannot be serialized
//   - transport: socket state problems
//   - config: configuration loading and validation
//
// # Usage
//
//	err := errors.New("D010").
//	    WithDetail(`no handler for "frobnicate"`).
//	    WithSuggestion("Check the server is sending a supported type")
//
//	fmt.Println(err.Format())
package errors
