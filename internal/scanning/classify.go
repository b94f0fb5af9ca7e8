package scanning

import "strings"

// Classifier decides whether a discovered service speaks HTTP.
type Classifier func(serviceName string) bool

var webServiceNames = map[string]struct{}{
	"http":           {},
	"https":          {},
	"http-alt":       {},
	"https-alt":      {},
	"http-proxy":     {},
	"http-mgmt":      {},
	"radan-http":     {},
	"sun-answerbook": {},
	"ssl/http":       {},
	"ssl/https":      {},
	"ssl/http-alt":   {},
	"ssl/https-alt":  {},
}

// IsWebService is the default Classifier. It matches nmap's HTTP service
// names, including the "ssl/" variants nmap emits for TLS wrapped services.
func IsWebService(serviceName string) bool {
	_, ok := webServiceNames[strings.ToLower(strings.TrimSpace(serviceName))]
	return ok
}

// WebServiceNames returns a Classifier matching IsWebService plus extra names.
func WebServiceNames(extra ...string) Classifier {
	names := make(map[string]struct{}, len(extra))
	for _, n := range extra {
		names[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return func(serviceName string) bool {
		if IsWebService(serviceName) {
			return true
		}
		_, ok := names[strings.ToLower(strings.TrimSpace(serviceName))]
		return ok
	}
}
