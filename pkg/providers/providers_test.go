package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"repowatch/pkg/platform"
	"repowatch/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	repo       *RepositoryInfo
	repoErr    error
	release    *ReleaseInfo
	releaseErr error
	issue      *IssueInfo
	issueErr   error
}

func (s *stubClient) Platform() platform.Platform                 { return platform.GitHub }
func (s *stubClient) SetAccessToken(string)                       {}
func (s *stubClient) VerifyToken(context.Context) (string, error) { return "", nil }
func (s *stubClient) FetchRepository(context.Context, string, string) (*RepositoryInfo, error) {
	return s.repo, s.repoErr
}
func (s *stubClient) FetchLatestRelease(context.Context, string, string) (*ReleaseInfo, error) {
	return s.release, s.releaseErr
}
func (s *stubClient) FetchLatestIssue(context.Context, string, string) (*IssueInfo, error) {
	return s.issue, s.issueErr
}
func (s *stubClient) FetchUserRepositories(context.Context, int, int) ([]RepositoryInfo, error) {
	return nil, nil
}
func (s *stubClient) UpdateRepository(ctx context.Context, record *storage.RepositoryRecord) error {
	return UpdateRecord(ctx, s, record, time.Now())
}

func trackedRecord() *storage.RepositoryRecord {
	released := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &storage.RepositoryRecord{
		Identifier:        platform.Identifier{Platform: platform.GitHub, Owner: "octocat", Name: "hello"},
		StarCount:         10,
		PreviousStarCount: 8,
		LatestReleaseTag:  "v1.0.0",
		LatestReleaseDate: &released,
		LatestIssueTitle:  "old issue",
	}
}

// TestUpdateRecordShiftsStarCount ensures the previous count is captured before overwrite.
func TestUpdateRecordShiftsStarCount(t *testing.T) {
	published := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	client := &stubClient{
		repo:    &RepositoryInfo{FullName: "Octocat/Hello", URL: "https://github.com/Octocat/Hello", StarCount: 15, ForkCount: 3},
		release: &ReleaseInfo{Tag: "v1.1.0", PublishedAt: &published},
	}
	record := trackedRecord()
	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, UpdateRecord(context.Background(), client, record, now))
	assert.Equal(t, 10, record.PreviousStarCount)
	assert.Equal(t, 15, record.StarCount)
	assert.Equal(t, 5, record.StarDelta())
	assert.Equal(t, "Octocat/Hello", record.FullName)
	assert.Equal(t, "v1.1.0", record.LatestReleaseTag)
	assert.Empty(t, record.LatestIssueTitle)
	require.NotNil(t, record.LastUpdated)
	assert.True(t, now.Equal(*record.LastUpdated))
}

// TestUpdateRecordAbortsOnRateLimit leaves the record untouched.
func TestUpdateRecordAbortsOnRateLimit(t *testing.T) {
	client := &stubClient{
		repo:     &RepositoryInfo{StarCount: 99},
		issueErr: FromStatus(platform.GitHub, "latest issue", http.StatusForbidden, "secondary", true),
	}
	record := trackedRecord()

	err := UpdateRecord(context.Background(), client, record, time.Now())
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 10, record.StarCount)
	assert.Nil(t, record.LastUpdated)
}

// TestUpdateRecordKeepsPreviousOnTransientFailure keeps old release data on HTTP errors.
func TestUpdateRecordKeepsPreviousOnTransientFailure(t *testing.T) {
	client := &stubClient{
		repo:       &RepositoryInfo{StarCount: 10},
		releaseErr: FromStatus(platform.GitHub, "latest release", http.StatusBadGateway, "bad gateway", false),
		issueErr:   Unsupported(platform.GitHub, "latest issue"),
	}
	record := trackedRecord()

	require.NoError(t, UpdateRecord(context.Background(), client, record, time.Now()))
	assert.Equal(t, "v1.0.0", record.LatestReleaseTag)
	assert.Empty(t, record.LatestIssueTitle, "unsupported means absent")
	assert.Equal(t, 0, record.StarDelta())
}

// TestUpdateRecordPropagatesRepositoryError surfaces not-found unchanged.
func TestUpdateRecordPropagatesRepositoryError(t *testing.T) {
	client := &stubClient{repoErr: FromStatus(platform.GitHub, "repository", http.StatusNotFound, "Not Found", false)}
	err := UpdateRecord(context.Background(), client, trackedRecord(), time.Now())
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestFromStatusKinds maps status codes onto the taxonomy.
func TestFromStatusKinds(t *testing.T) {
	cases := []struct {
		status  int
		limited bool
		kind    error
	}{
		{http.StatusUnauthorized, false, ErrInvalidToken},
		{http.StatusNotFound, false, ErrNotFound},
		{http.StatusTooManyRequests, false, ErrRateLimited},
		{http.StatusForbidden, true, ErrRateLimited},
		{http.StatusForbidden, false, ErrHTTP},
		{http.StatusInternalServerError, false, ErrHTTP},
	}
	for _, tc := range cases {
		err := FromStatus(platform.GitLab, "op", tc.status, "msg", tc.limited)
		assert.True(t, errors.Is(err, tc.kind), "status %d", tc.status)
		var perr *Error
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, tc.status, perr.StatusCode)
		assert.Equal(t, "msg", perr.Message)
	}
}

// TestFromTransportKeepsCancellation distinguishes shutdown from network faults.
func TestFromTransportKeepsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := FromTransport(ctx, platform.GitHub, "op", errors.New("dial tcp: refused"))
	assert.True(t, errors.Is(err, context.Canceled))

	err = FromTransport(context.Background(), platform.GitHub, "op", errors.New("dial tcp: refused"))
	assert.True(t, errors.Is(err, ErrNetwork))
}

// TestCollectPagesReissuesLargeRequests slices platform pages for perPage above the cap.
func TestCollectPagesReissuesLargeRequests(t *testing.T) {
	total := 250
	var calls []int
	fetch := func(_ context.Context, page, perPage int) ([]RepositoryInfo, error) {
		require.LessOrEqual(t, perPage, MaxPerPage)
		calls = append(calls, page)
		var out []RepositoryInfo
		for i := (page - 1) * perPage; i < page*perPage && i < total; i++ {
			out = append(out, RepositoryInfo{StarCount: i})
		}
		return out, nil
	}

	items, err := CollectPages(context.Background(), 1, 150, fetch)
	require.NoError(t, err)
	require.Len(t, items, 150)
	assert.Equal(t, 0, items[0].StarCount)
	assert.Equal(t, 149, items[149].StarCount)
	assert.Equal(t, []int{1, 2}, calls)

	calls = nil
	items, err = CollectPages(context.Background(), 2, 150, fetch)
	require.NoError(t, err)
	require.Len(t, items, 100)
	assert.Equal(t, 150, items[0].StarCount)
	assert.Equal(t, []int{2, 3}, calls)
}

// TestClampPerPage bounds page sizes.
func TestClampPerPage(t *testing.T) {
	assert.Equal(t, 1, ClampPerPage(0))
	assert.Equal(t, 30, ClampPerPage(30))
	assert.Equal(t, MaxPerPage, ClampPerPage(500))
}
