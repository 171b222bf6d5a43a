package jsonp

import (
	"fmt"
	"net/url"
	"strings"

	gateway "github.com/eugener/xssgate/internal"
)

// CallbackArg returns the percent-decoded value of the first name=value pair
// in rawQuery whose name matches name case-insensitively. Pairs are delimited
// by '&'. An absent argument yields gateway.ErrArgNotFound; a value whose
// escapes cannot be fully decoded yields gateway.ErrMalformedEncoding.
func CallbackArg(rawQuery, name string) (string, error) {
	raw, ok := rawArg(rawQuery, name)
	if !ok {
		return "", gateway.ErrArgNotFound
	}
	// PathUnescape decodes %XX and leaves '+' as a literal byte.
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: argument %q: %v", gateway.ErrMalformedEncoding, name, err)
	}
	return v, nil
}

// rawArg finds the undecoded value of name in rawQuery.
func rawArg(rawQuery, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for rawQuery != "" {
		var pair string
		pair, rawQuery, _ = strings.Cut(rawQuery, "&")
		if len(pair) <= len(name) || pair[len(name)] != '=' {
			continue
		}
		if strings.EqualFold(pair[:len(name)], name) {
			return pair[len(name)+1:], true
		}
	}
	return "", false
}
