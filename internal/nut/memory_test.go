package nut

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqrl_server/internal/model"
)

func issueOrigin(t *testing.T, r *MemoryRegistry, nutVal string) {
	t.Helper()
	err := r.Issue(context.Background(), model.UrlAndNut{
		URL: "sqrl://example.com/sqrl?nut=" + nutVal,
		Nut: nutVal,
	}, "")
	require.NoError(t, err)
}

func TestMemoryRegistryIssueLookup(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	defer r.Close()
	ctx := context.Background()

	issueOrigin(t, r, "AAAA")

	rec, err := r.Lookup(ctx, "AAAA")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "AAAA", rec.Nut)
	assert.Equal(t, "AAAA", rec.Origin())
	assert.False(t, rec.LoggedIn)

	rec, err = r.Lookup(ctx, "never-issued")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryRegistryConsumeIsSingleUse(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	defer r.Close()
	ctx := context.Background()

	issueOrigin(t, r, "AAAA")

	rec, err := r.Consume(ctx, "AAAA")
	require.NoError(t, err)
	require.NotNil(t, rec)

	rec, err = r.Consume(ctx, "AAAA")
	require.NoError(t, err)
	assert.Nil(t, rec, "second claim must fail")

	// consumed records stay visible to plain reads
	rec, err = r.Lookup(ctx, "AAAA")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestMemoryRegistryConcurrentConsume(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	defer r.Close()
	ctx := context.Background()

	issueOrigin(t, r, "AAAA")

	const workers = 32
	got := make(chan *model.NutRecord, workers)
	for i := 0; i < workers; i++ {
		go func() {
			rec, _ := r.Consume(ctx, "AAAA")
			got <- rec
		}()
	}

	wins := 0
	for i := 0; i < workers; i++ {
		if <-got != nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one claim succeeds")
}

func TestMemoryRegistryAncestryFlattens(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	defer r.Close()
	ctx := context.Background()

	issueOrigin(t, r, "O")
	require.NoError(t, r.Issue(ctx, model.UrlAndNut{Nut: "Q1"}, "O"))
	// follow-up registered against its predecessor, not the origin
	require.NoError(t, r.Issue(ctx, model.UrlAndNut{Nut: "Q2"}, "Q1"))
	require.NoError(t, r.Issue(ctx, model.UrlAndNut{Nut: "ID"}, "Q2"))

	rec, err := r.Lookup(ctx, "ID")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "O", rec.OriginalLoginNut, "chain is at most one step deep")
}

func TestMemoryRegistryMarkLoggedIn(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	defer r.Close()
	ctx := context.Background()

	issueOrigin(t, r, "O")
	require.NoError(t, r.Issue(ctx, model.UrlAndNut{Nut: "Q1"}, "O"))

	require.NoError(t, r.MarkLoggedIn(ctx, "O", "idk-value"))

	rec, err := r.Lookup(ctx, "O")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.LoggedIn)
	assert.Equal(t, "idk-value", rec.IdentityKey)

	// descendants do not get the flag; polls read the origin
	rec, err = r.Lookup(ctx, "Q1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.LoggedIn)
}

func TestMemoryRegistryMarkLoggedInUnknown(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	defer r.Close()

	err := r.MarkLoggedIn(context.Background(), "ghost", "idk")
	assert.Error(t, err)
}

func TestMemoryRegistryEviction(t *testing.T) {
	r := NewMemoryRegistry(10 * time.Millisecond)
	defer r.Close()
	ctx := context.Background()

	issueOrigin(t, r, "AAAA")
	time.Sleep(30 * time.Millisecond)

	rec, err := r.Lookup(ctx, "AAAA")
	require.NoError(t, err)
	assert.Nil(t, rec, "expired records read as unknown")

	rec, err = r.Consume(ctx, "AAAA")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
