package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"repowatch/pkg/platform"
	"repowatch/pkg/providers"

	gh "github.com/google/go-github/v57/github"
)

func mapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &providers.Error{Kind: providers.ErrRateLimited, Platform: platform.GitHub, Op: op, StatusCode: statusOf(rateErr.Response), Message: rateErr.Message, Err: err}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &providers.Error{Kind: providers.ErrRateLimited, Platform: platform.GitHub, Op: op, StatusCode: statusOf(abuseErr.Response), Message: abuseErr.Message, Err: err}
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) {
		status := statusOf(respErr.Response)
		limited := status == http.StatusForbidden && respErr.Response.Header.Get("X-RateLimit-Remaining") == "0"
		return providers.FromStatus(platform.GitHub, op, status, respErr.Message, limited)
	}
	var acceptedErr *gh.AcceptedError
	if errors.As(err, &acceptedErr) {
		return &providers.Error{Kind: providers.ErrHTTP, Platform: platform.GitHub, Op: op, StatusCode: http.StatusAccepted, Message: "result not ready", Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return providers.NewError(providers.ErrInvalidResponse, platform.GitHub, op, err)
	}
	return providers.FromTransport(ctx, platform.GitHub, op, err)
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
