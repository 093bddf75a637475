package dispatch

// Kind identifies a handler.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSetCookie
	KindReload
	KindPing
	KindEval
	KindBundle
	KindRedirectConsole
	KindCall
)

var kindNames = [...]string{
	KindUnknown:         "unknown",
	KindSetCookie:       "set_cookie",
	KindReload:          "reload",
	KindPing:            "ping",
	KindEval:            "eval",
	KindBundle:          "bundle",
	KindRedirectConsole: "redirect_console",
	KindCall:            "call",
}

// ParseKind maps an envelope type to its Kind. Unrecognized types return
// KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "set_cookie":
		return KindSetCookie
	case "reload":
		return KindReload
	case "ping":
		return KindPing
	case "eval":
		return KindEval
	case "bundle":
		return KindBundle
	case "redirect_console":
		return KindRedirectConsole
	case "call":
		return KindCall
	default:
		return KindUnknown
	}
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}
