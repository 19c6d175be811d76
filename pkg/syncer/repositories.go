package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"repowatch/pkg/platform"
	"repowatch/pkg/providers"
	"repowatch/pkg/storage"
)

// AddRepository starts tracking the repository named by input, which may be
// a URL, an SSH remote or an "owner/name" shorthand. Nothing is stored when
// any step fails.
func (e *Engine) AddRepository(ctx context.Context, input string) (*storage.RepositoryRecord, error) {
	id, err := platform.Parse(input)
	if err != nil {
		return nil, err
	}

	tracked, err := e.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	if isTracked(tracked, id) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, id)
	}
	entitled := e.Entitled(ctx)
	if !entitled && e.cfg.FreeTierLimit > 0 && len(tracked) >= e.cfg.FreeTierLimit {
		return nil, fmt.Errorf("%w: free tier allows %d repositories", ErrCapacityReached, e.cfg.FreeTierLimit)
	}

	client, err := e.client(id.Platform)
	if err != nil {
		return nil, err
	}
	info, err := client.FetchRepository(ctx, id.Owner, id.Name)
	if err != nil {
		return nil, err
	}

	canonical := id
	if info.Owner != "" && info.Name != "" {
		canonical.Owner, canonical.Name = info.Owner, info.Name
	}
	if canonical != id && isTracked(tracked, canonical) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, canonical)
	}
	record := storage.RepositoryRecord{
		ID:                   e.newID(),
		Identifier:           canonical,
		FullName:             info.FullName,
		URL:                  info.URL,
		NotificationsEnabled: true,
		CreatedAt:            e.now().UTC(),
	}
	if record.URL == "" {
		record.URL = canonical.URL()
	}
	if err := client.UpdateRepository(ctx, &record); err != nil {
		return nil, err
	}
	var metricsOff atomic.Bool
	metricsOff.Store(!entitled)
	e.fetchMetrics(ctx, client, &record, &metricsOff)
	// The first snapshot is the baseline, not a change.
	record.PreviousStarCount = record.StarCount

	if err := e.store.InsertRepository(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, canonical)
		}
		return nil, err
	}
	e.logger.Printf("tracking %s (%s)", record.DisplayName(), record.ID)
	return &record, nil
}

func isTracked(records []storage.RepositoryRecord, id platform.Identifier) bool {
	for _, r := range records {
		if r.Identifier == id {
			return true
		}
	}
	return false
}

// RemoveRepository stops tracking id and drops its analytics and milestone markers.
func (e *Engine) RemoveRepository(ctx context.Context, id string) error {
	if err := e.store.DeleteRepository(ctx, id); err != nil {
		return err
	}
	return errors.Join(
		e.store.DeleteAnalytics(ctx, id),
		e.store.DeleteMilestones(ctx, id),
	)
}

// ListRepositories returns the tracked repositories in tracking order.
func (e *Engine) ListRepositories(ctx context.Context) ([]storage.RepositoryRecord, error) {
	return e.store.ListRepositories(ctx)
}

// ListRemoteRepositories pages through the repositories the credential for p can see.
func (e *Engine) ListRemoteRepositories(ctx context.Context, p platform.Platform, page, perPage int) ([]providers.RepositoryInfo, error) {
	client, err := e.client(p)
	if err != nil {
		return nil, err
	}
	return client.FetchUserRepositories(ctx, page, providers.ClampPerPage(perPage))
}

// VerifyToken checks the credential configured for p and returns its username.
// A valid credential clears the sticky rate-limit flag.
func (e *Engine) VerifyToken(ctx context.Context, p platform.Platform) (string, error) {
	client, err := e.client(p)
	if err != nil {
		return "", err
	}
	user, err := client.VerifyToken(ctx)
	if err != nil {
		return "", err
	}
	e.ClearRateLimit()
	return user, nil
}
