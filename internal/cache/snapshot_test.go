package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/model"
)

func countingLoader(calls *int) Loader {
	return func(ctx context.Context, familyID int64) (*model.FamilySnapshot, error) {
		*calls++
		return &model.FamilySnapshot{Family: model.Family{ID: familyID}}, nil
	}
}

func TestSnapshotsCachesUntilInvalidated(t *testing.T) {
	calls := 0
	c := NewSnapshots(8, time.Minute, countingLoader(&calls))
	ctx := context.Background()

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)
	_, err = c.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	c.Handle(events.Event{FamilyID: 1, Entity: events.EntityLedger, Action: "appended"})
	snap, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Family.ID)
	require.Equal(t, 2, calls)
}

func TestSnapshotsInvalidationIsPerFamily(t *testing.T) {
	calls := 0
	c := NewSnapshots(8, time.Minute, countingLoader(&calls))
	ctx := context.Background()

	c.Get(ctx, 1)
	c.Get(ctx, 2)
	c.Invalidate(1)
	c.Get(ctx, 2)

	require.Equal(t, 2, calls)
	require.Equal(t, 1, c.Len())
}

func TestSnapshotsDropsLoadRacingInvalidation(t *testing.T) {
	var c *Snapshots
	c = NewSnapshots(8, time.Minute, func(ctx context.Context, familyID int64) (*model.FamilySnapshot, error) {
		// A write commits while the snapshot is being built.
		c.Invalidate(familyID)
		return &model.FamilySnapshot{}, nil
	})

	_, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())
}

func TestSnapshotsMissingFamily(t *testing.T) {
	c := NewSnapshots(8, time.Minute, func(ctx context.Context, familyID int64) (*model.FamilySnapshot, error) {
		return nil, nil
	})
	snap, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, snap)
	require.Equal(t, 0, c.Len())
}
