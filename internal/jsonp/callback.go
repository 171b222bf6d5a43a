// Package jsonp implements the JSONP response filter: an eligibility decision
// taken once at header time and a streaming body wrapper that frames the JSON
// body as "callback(" + body + ");" without buffering it.
//
// Both stages are chainable filters. Each is constructed with its downstream
// sink, mirroring a header/body filter chain without any global state.
package jsonp

// identStart and identPart classify bytes of a JavaScript-like identifier.
// Only ASCII letters, digits, '_' and '$' are accepted.
var identStart, identPart [256]bool

func init() {
	for c := 'a'; c <= 'z'; c++ {
		identStart[c] = true
		identStart[c-'a'+'A'] = true
	}
	identStart['_'] = true
	identStart['$'] = true
	identPart = identStart
	for c := '0'; c <= '9'; c++ {
		identPart[c] = true
	}
}

// ValidCallback reports whether s is one or more dot-separated identifiers,
// each matching [A-Za-z_$][A-Za-z0-9_$]*. It rejects on the first bad byte
// and does not allocate.
func ValidCallback(s string) bool {
	atStart := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case atStart:
			if !identStart[c] {
				return false
			}
			atStart = false
		case c == '.':
			atStart = true
		case !identPart[c]:
			return false
		}
	}
	// Empty input and a trailing '.' both leave an identifier unfinished.
	return !atStart
}
