package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 90 * time.Second

const minExternalHTTPTimeout = 5 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// ExternalHTTPClient is shared by every outbound call to a third-party API.
func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

// ConfigureExternalHTTPClient applies the configured timeout and returns the
// value actually used. Non-positive values keep the default; values under five
// seconds are raised to five.
func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	if timeout < minExternalHTTPTimeout {
		timeout = minExternalHTTPTimeout
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
