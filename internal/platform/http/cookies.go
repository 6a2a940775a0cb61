package http

import (
	"net/http/cookiejar"

	"golang.org/x/net/publicsuffix"
)

// newCookieJar builds an in-memory jar so endpoints that require a primed
// session cookie (notably the NSE API) work across requests.
func newCookieJar() *cookiejar.Jar {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}
