package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestLicense(t *testing.T) {
	ctx := context.Background()
	key, err := Issue(secret, "user-1", PlanPro, time.Now().Add(time.Hour))
	require.NoError(t, err)

	ok, err := NewLicense(key, secret).IsEntitled(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewLicense(key, []byte("other")).IsEntitled(ctx)
	assert.ErrorIs(t, err, ErrInvalidLicense)

	ok, err = NewLicense("", secret).IsEntitled(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLicenseExpiry(t *testing.T) {
	key, err := Issue(secret, "user-1", PlanPro, time.Now().Add(time.Hour))
	require.NoError(t, err)

	license := NewLicense(key, secret)
	license.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	ok, err := license.IsEntitled(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidLicense)
}

func TestLicenseRequiresProPlan(t *testing.T) {
	key, err := Issue(secret, "user-1", "free", time.Now().Add(time.Hour))
	require.NoError(t, err)

	ok, err := NewLicense(key, secret).IsEntitled(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

type failing struct{}

func (failing) IsEntitled(context.Context) (bool, error) { return false, errors.New("offline") }

func TestAny(t *testing.T) {
	ctx := context.Background()
	ok, err := Any{failing{}, Static(true)}.IsEntitled(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Any{failing{}, Static(false)}.IsEntitled(ctx)
	assert.False(t, ok)
	assert.Error(t, err)
}
