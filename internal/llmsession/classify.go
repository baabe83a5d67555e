package llmsession

import "strings"

// permanentErrorMarkers are substrings providers are expected to surface in
// error text for non-retryable failures: bad/missing credentials and
// exhausted quota. Transport-level errors (timeouts, 5xx, connection
// resets) fall through and are treated as transient.
var permanentErrorMarkers = []string{
	"401",
	"403",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"unauthorized",
	"quota",
	"insufficient_quota",
	"billing",
}

func isPermanentProviderError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
