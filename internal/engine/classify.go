package engine

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
)

// StatusCloudflareBlocked is the vendor code for an access-denied firewall rule.
const StatusCloudflareBlocked = 1020

var challengeMarkers = [][]byte{
	[]byte("cdn-cgi/challenge"),
	[]byte("Checking your browser"),
}

// classify returns a non-nil error wrapping ErrAntiBotChallenge when resp is a
// Cloudflare block page. Responses lacking the Cloudflare signature are never
// blocks, whatever their status.
func classify(resp fetch.Response) error {
	if resp.Header.Get("Cf-Ray") == "" || !strings.EqualFold(resp.Header.Get("Server"), "cloudflare") {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == StatusCloudflareBlocked {
		return fmt.Errorf("%w: status %d", ErrAntiBotChallenge, resp.StatusCode)
	}
	for _, marker := range challengeMarkers {
		if bytes.Contains(resp.Body, marker) {
			return fmt.Errorf("%w: javascript challenge", ErrAntiBotChallenge)
		}
	}
	return nil
}
