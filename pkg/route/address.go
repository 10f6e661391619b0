package route

import "fmt"

// Address is the structural pooling key for an origin endpoint: equal
// Addresses may share a pooled Connection.
type Address struct {
	Scheme        string // "http" or "https"
	Host          string
	Port          int
	InsecureTLS   bool
	SNI           string
	DisableSNI    bool
	ExplicitProxy *ProxyConfig // nil means "use the configured ProxySelector"
}

// String renders scheme://host:port, used for logging and as the first
// component of Key().
func (a Address) String() string {
	return fmt.Sprintf("%s://%s:%d", a.Scheme, a.Host, a.Port)
}

// Key returns a string safe to use as a connection-pool map key: == on
// Address compares ExplicitProxy by pointer identity, so Key folds the
// proxy's type, host and port in by value instead.
func (a Address) Key() string {
	if a.ExplicitProxy == nil {
		return fmt.Sprintf("%s|%v|%s|%v", a.String(), a.InsecureTLS, a.SNI, a.DisableSNI)
	}
	p := a.ExplicitProxy
	return fmt.Sprintf("%s|%v|%s|%v|proxy:%s:%s:%d", a.String(), a.InsecureTLS, a.SNI, a.DisableSNI, p.Type, p.Host, p.Port)
}

// DefaultPort returns the scheme's default port: 80 for http, 443 for
// https.
func DefaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}
