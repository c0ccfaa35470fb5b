package main

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestBoltStore returns a new instance of bolt storage in a temporary path.
func newTestBoltStore(t *testing.T) CatalogStorage {
	t.Helper()
	f, err := os.CreateTemp("", "tmp.bolt.db-")
	require.NoError(t, err)
	f.Close()
	testConfig := &Config{
		BoltDB: BoltDBConfig{
			FilePath:   f.Name(),
			Timeout:    5 * time.Second,
			BucketName: "test.catalog",
		},
	}

	client, err := GetBoltDBClient(testConfig)
	require.NoError(t, err, "failed in creating a test bolt store")
	bs := NewBoltCatalogStorage(zap.NewNop(), &testConfig.BoltDB, client)
	t.Cleanup(func() {
		bs.Close()
		os.Remove(testConfig.BoltDB.FilePath)
	})
	return bs
}

func sampleCatalog() *Catalog {
	return &Catalog{
		Books: map[string]BookEntry{
			"1984": {TotalCopies: 3, AvailableCopies: 2},
			"Emma": {TotalCopies: 1, AvailableCopies: 1},
		},
		IssuedLoans: map[string]Loan{
			"alice_1984_20230702000000": {User: "alice", Book: "1984", IssueDate: "2023-07-02 00:00:00", DueDate: "2023-07-17"},
		},
	}
}

// testCatalogStorage runs the behavior every catalog storage must share.
func testCatalogStorage(t *testing.T, s CatalogStorage) {
	ctx := context.Background()

	t.Run("Load Empty", func(t *testing.T) {
		c, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, c.Books)
		assert.Empty(t, c.IssuedLoans)
	})

	t.Run("Save And Load", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, sampleCatalog()))
		c, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, sampleCatalog(), c)
		// exact date strings round-trip.
		assert.Equal(t, "2023-07-02 00:00:00", c.IssuedLoans["alice_1984_20230702000000"].IssueDate)
		assert.Equal(t, "2023-07-17", c.IssuedLoans["alice_1984_20230702000000"].DueDate)
	})

	t.Run("Update Commits", func(t *testing.T) {
		err := s.Update(ctx, func(c *Catalog) error {
			e := c.Books["Emma"]
			e.AvailableCopies--
			c.Books["Emma"] = e
			c.IssuedLoans["bob_Emma_20230702000000"] = Loan{User: "bob", Book: "Emma", IssueDate: "2023-07-02 00:00:00", DueDate: "2023-07-17"}
			return nil
		})
		require.NoError(t, err)
		c, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, c.Books["Emma"].AvailableCopies)
		assert.Len(t, c.IssuedLoans, 2)
	})

	t.Run("Update Aborts On Error", func(t *testing.T) {
		before, err := s.Load(ctx)
		require.NoError(t, err)
		errStop := errors.New("stop")
		err = s.Update(ctx, func(c *Catalog) error {
			c.Books["Dune"] = BookEntry{TotalCopies: 1, AvailableCopies: 1}
			return errStop
		})
		assert.True(t, errors.Is(err, errStop))
		after, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("Update Rejects Broken Invariant", func(t *testing.T) {
		before, err := s.Load(ctx)
		require.NoError(t, err)
		err = s.Update(ctx, func(c *Catalog) error {
			c.Books["Emma"] = BookEntry{TotalCopies: 1, AvailableCopies: 1}
			return nil
		})
		assert.Error(t, err)
		after, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestBoltStore(t *testing.T) {
	testCatalogStorage(t, newTestBoltStore(t))
}

// Ensure the mirror consumer replays queued snapshots into bolt.
func TestMirrorConsumer(t *testing.T) {
	mirror := newTestBoltStore(t)
	queue := NewMockQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- NewMirrorConsumer(zap.NewNop(), queue, mirror).Consume(ctx, SnapshotQueue)
	}()

	require.NoError(t, queue.Push(ctx, SnapshotQueue, sampleCatalog()))
	assert.Eventually(t, func() bool {
		c, err := mirror.Load(context.Background())
		return err == nil && len(c.Books) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
