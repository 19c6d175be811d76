package gitlab

import (
	"context"
	"errors"
	"net/http"

	"repowatch/pkg/platform"
	"repowatch/pkg/providers"

	gl "github.com/xanzy/go-gitlab"
)

// tokenTransport drops an empty PRIVATE-TOKEN header so anonymous calls
// reach public projects.
type tokenTransport struct {
	next http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if values, ok := req.Header["Private-Token"]; ok && (len(values) == 0 || values[0] == "") {
		req = req.Clone(req.Context())
		req.Header.Del("Private-Token")
	}
	return t.next.RoundTrip(req)
}

func mapError(ctx context.Context, op string, resp *gl.Response, err error) error {
	if err == nil {
		return nil
	}
	var respErr *gl.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return fromResponse(op, respErr.Response, respErr.Message)
	}
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return fromResponse(op, resp.Response, err.Error())
	}
	if resp != nil && resp.Response != nil {
		// A response arrived but could not be decoded.
		return providers.NewError(providers.ErrInvalidResponse, platform.GitLab, op, err)
	}
	return providers.FromTransport(ctx, platform.GitLab, op, err)
}

func fromResponse(op string, resp *http.Response, message string) error {
	limited := resp.StatusCode == http.StatusForbidden && resp.Header.Get("RateLimit-Remaining") == "0"
	return providers.FromStatus(platform.GitLab, op, resp.StatusCode, message, limited)
}
