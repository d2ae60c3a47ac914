/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package endpoint

import (
	"strings"
)

// IsTLSEnabled is a generic function that expects a URL and verifies if it has
// a prefix HTTPS or GRPCS to return true for TLS Enabled URLs or false otherwise
func IsTLSEnabled(url string) bool {
	tlsURL := strings.ToLower(url)
	return strings.HasPrefix(tlsURL, "https://") || strings.HasPrefix(tlsURL, "grpcs://")
}

// ToAddress is a utility function to trim the GRPC protocol prefix as it is not needed by GO
// if the GRPC protocol is not found, the url is returned unchanged
func ToAddress(url string) string {
	for _, prefix := range []string{"grpc://", "grpcs://"} {
		if strings.HasPrefix(strings.ToLower(url), prefix) {
			return url[len(prefix):]
		}
	}
	return url
}

// AttemptSecured returns true if a TLS connection should be established.
// For protocol 'grpcs' it returns true, for 'grpc' false and
// with no protocol it returns !allowInsecure.
func AttemptSecured(url string, allowInsecure bool) bool {
	if IsTLSEnabled(url) {
		return true
	}
	if strings.Contains(url, "://") {
		return false
	}
	return !allowInsecure
}
