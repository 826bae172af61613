// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient returns the client used for service-to-service calls. Every
// outbound call must carry a timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
