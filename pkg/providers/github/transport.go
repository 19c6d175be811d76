package github

import "net/http"

const (
	acceptHeader = "application/vnd.github+json"
	userAgent    = "repowatch"
	apiVersion   = "2022-11-28"
)

// headerTransport stamps the headers the REST API expects on every request.
type headerTransport struct {
	next http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Set("Accept", acceptHeader)
	out.Header.Set("User-Agent", userAgent)
	out.Header.Set("X-GitHub-Api-Version", apiVersion)
	return t.next.RoundTrip(out)
}
