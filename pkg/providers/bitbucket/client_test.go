package bitbucket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"repowatch/pkg/auth"
	"repowatch/pkg/platform"
	"repowatch/pkg/providers"
	"repowatch/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewTokenClient(auth.ProviderConfig{BaseURL: server.URL}, "bb-token", server.Client())
}

func repoHandler(t *testing.T, issues func(w http.ResponseWriter)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer bb-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/repositories/atlassian/python-bitbucket":
			_, _ = w.Write([]byte(`{"name":"python-bitbucket","slug":"python-bitbucket","full_name":"atlassian/python-bitbucket",
				"workspace":{"slug":"atlassian"},"links":{"html":{"href":"https://bitbucket.org/atlassian/python-bitbucket"}}}`))
		case "/repositories/atlassian/python-bitbucket/watchers":
			_, _ = w.Write([]byte(`{"size":31,"values":[]}`))
		case "/repositories/atlassian/python-bitbucket/forks":
			_, _ = w.Write([]byte(`{"size":4,"values":[]}`))
		case "/repositories/atlassian/python-bitbucket/issues":
			issues(w)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"type":"error","error":{"message":"Repository not found"}}`))
		}
	}
}

// TestFetchRepositoryUsesWatchersAsStars combines three endpoints.
func TestFetchRepositoryUsesWatchersAsStars(t *testing.T) {
	client := newTestClient(t, repoHandler(t, nil))

	info, err := client.FetchRepository(context.Background(), "atlassian", "python-bitbucket")
	require.NoError(t, err)
	assert.Equal(t, "atlassian", info.Owner)
	assert.Equal(t, "python-bitbucket", info.Name)
	assert.Equal(t, 31, info.StarCount)
	assert.Equal(t, 4, info.ForkCount)

	_, err = client.FetchRepository(context.Background(), "atlassian", "gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrNotFound))
	var perr *providers.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Repository not found", perr.Message)
}

// TestDisabledIssueTrackerMeansNoIssue maps the tracker 404 to absence.
func TestDisabledIssueTrackerMeansNoIssue(t *testing.T) {
	client := newTestClient(t, repoHandler(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusNotFound)
	}))

	issue, err := client.FetchLatestIssue(context.Background(), "atlassian", "python-bitbucket")
	require.NoError(t, err)
	assert.Nil(t, issue)
}

// TestUpdateRepositoryReadsIssue populates the snapshot with no release.
func TestUpdateRepositoryReadsIssue(t *testing.T) {
	client := newTestClient(t, repoHandler(t, func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"values":[{"id":12,"title":"Broken link","created_on":"2024-01-02T03:04:05.123456+00:00",
			"links":{"html":{"href":"https://bitbucket.org/atlassian/python-bitbucket/issues/12"}}}]}`))
	}))

	record := &storage.RepositoryRecord{
		Identifier:       platform.Identifier{Platform: platform.Bitbucket, Owner: "atlassian", Name: "python-bitbucket"},
		LatestReleaseTag: "stale",
	}
	require.NoError(t, client.UpdateRepository(context.Background(), record))
	assert.Equal(t, 31, record.StarCount)
	assert.Equal(t, "Broken link", record.LatestIssueTitle)
	require.NotNil(t, record.LatestIssueDate)
	assert.Empty(t, record.LatestReleaseTag)
}

// TestUnsupportedOperations fail with the unsupported kind and no request.
func TestUnsupportedOperations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.URL.Path)
	})
	_, err := client.VerifyToken(context.Background())
	assert.True(t, errors.Is(err, providers.ErrUnsupported))
	_, err = client.FetchUserRepositories(context.Background(), 1, 10)
	assert.True(t, errors.Is(err, providers.ErrUnsupported))
	release, err := client.FetchLatestRelease(context.Background(), "a", "b")
	assert.NoError(t, err)
	assert.Nil(t, release)
}

// TestRateLimitStatus maps 429 to the rate-limit kind.
func TestRateLimitStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := client.FetchRepository(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, providers.ErrRateLimited))
}

// TestCancelAbortsInFlightRequest stops a request the server never answers.
func TestCancelAbortsInFlightRequest(t *testing.T) {
	arrived := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()
	_, err := client.FetchRepository(ctx, "atlassian", "python-bitbucket")
	assert.ErrorIs(t, err, context.Canceled)
}
