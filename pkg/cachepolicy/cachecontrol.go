package cachepolicy

import "strings"

// directives is a parsed Cache-Control header.
type directives map[string]string

func parseCacheControl(value string) directives {
	d := make(directives)
	if value == "" {
		return d
	}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			key := strings.ToLower(strings.TrimSpace(part[:i]))
			val := strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
			d[key] = val
		} else {
			d[strings.ToLower(part)] = ""
		}
	}
	return d
}

func (d directives) has(name string) bool {
	_, ok := d[name]
	return ok
}

func (d directives) seconds(name string) (int64, bool) {
	v, ok := d[name]
	if !ok {
		return 0, false
	}
	var n int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}
