package store

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)

	type rec struct {
		Name string `json:"name"`
	}
	require.NoError(t, s.Put("sess1", "cs.grp", rec{Name: "CS"}))

	b, err := s.Get("sess1", "cs.grp")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"CS"}`, string(b))

	_, err = s.Get("sess2", "cs.grp")
	assert.True(t, errors.Is(err, ErrNotFound), "sessions must not see each other's files")

	_, err = s.Get("sess1", "missing.grp")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_Files(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("a", "comsc101b", 1))
	require.NoError(t, s.Put("a", "comsc101a", 1))
	require.NoError(t, s.Put("b", "other", 1))

	names, err := s.Files("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"comsc101a", "comsc101b"}, names)

	names, err = s.Files("nobody")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStore_RunLifecycle(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadResult("sess", "r1")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	meta := RunMeta{RunID: "r1", RunFile: "fall.run", RunName: "Fall", GroupRefs: []string{"cs.grp"}, CreatedAt: time.Now()}
	require.NoError(t, s.CreateRun("sess", meta))
	assert.True(t, errors.Is(s.CreateRun("sess", meta), ErrRunExists))

	_, err = s.LoadResult("sess", "r1")
	assert.True(t, errors.Is(err, ErrRunPending), "manifest without snapshot reads as pending")

	require.NoError(t, s.SaveResult("sess", "r1", []byte(`{"run_name":"Fall"}`)))
	err = s.SaveResult("sess", "r1", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrSnapshotExists))

	b, err := s.LoadResult("sess", "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"run_name":"Fall"}`, string(b))

	err = s.SaveResult("sess", "nope", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestStore_DeleteRun(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateRun("sess", RunMeta{RunID: "pending", CreatedAt: time.Now()}))
	require.NoError(t, s.DeleteRun("sess", "pending"))
	_, err := s.LoadResult("sess", "pending")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	require.NoError(t, s.CreateRun("sess", RunMeta{RunID: "done", CreatedAt: time.Now()}))
	require.NoError(t, s.SaveResult("sess", "done", []byte(`{}`)))
	assert.True(t, errors.Is(s.DeleteRun("sess", "done"), ErrSnapshotExists))
}

func TestStore_Runs(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.CreateRun("sess", RunMeta{RunID: "zzz", RunName: "first", CreatedAt: now}))
	require.NoError(t, s.CreateRun("sess", RunMeta{RunID: "aaa", RunName: "second", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.SaveResult("sess", "zzz", []byte(`{}`)))

	runs, err := s.Runs("sess")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "first", runs[0].RunName)
	assert.Equal(t, "second", runs[1].RunName)
}

func TestStore_ConcurrentSnapshotWrites(t *testing.T) {
	s := newTestStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	require.NoError(t, s.CreateRun("sess", RunMeta{RunID: "r", CreatedAt: time.Now()}))

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		exists  int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.SaveResult("sess", "r", []byte(`{"ok":true}`))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrSnapshotExists):
				exists++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, writers-1, exists)
	assert.Equal(t, 0, s.locks.size())
}

func TestKeyedMutex_Serializes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		guard   sync.Mutex
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("run")
			guard.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			guard.Unlock()

			time.Sleep(time.Millisecond)

			guard.Lock()
			inside--
			guard.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, k.size())
}
