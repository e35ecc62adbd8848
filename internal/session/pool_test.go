// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harborlink/portalgate/internal/artifact"
	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/browser/browsertest"
	"github.com/harborlink/portalgate/internal/portalerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func fakeLogin(drivers *[]*browsertest.Fake) LoginFunc {
	return func(_ context.Context, _ Credentials, _ string) (browser.Driver, error) {
		d := &browsertest.Fake{URL: "https://portal.example/dashboard"}
		*drivers = append(*drivers, d)
		return d, nil
	}
}

func TestAcquireCreatesOnMiss(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(3, fakeLogin(&drivers), newTestStore(t))

	s, isNew, err := p.Acquire(context.Background(), Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.InUse())
	assert.Equal(t, 1, p.Len())
}

func TestAcquireReusesByCredentials(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(3, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()
	creds := Credentials{Username: "alice", Password: "pw"}

	s1, _, err := p.Acquire(ctx, creds)
	require.NoError(t, err)
	p.Release(s1)

	s2, isNew, err := p.Acquire(ctx, creds)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Len(t, drivers, 1, "no second login should happen")
}

func TestAcquireDifferentCredentialsGetDistinctSessions(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(3, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	s1, _, err := p.Acquire(ctx, Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	s2, _, err := p.Acquire(ctx, Credentials{Username: "bob", Password: "pw"})
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, 2, p.Len())
}

func TestAcquireRecreatesDeadSession(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(3, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()
	creds := Credentials{Username: "alice", Password: "pw"}

	s1, _, err := p.Acquire(ctx, creds)
	require.NoError(t, err)
	p.Release(s1)

	// Kill the browser behind the pool's back.
	drivers[0].Errs = map[string]error{"CurrentURL": errors.New("connection lost")}

	s2, isNew, err := p.Acquire(ctx, creds)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.True(t, drivers[0].Closed)
	assert.Equal(t, 1, p.Len())
}

func TestAcquireByID(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(3, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	s, _, err := p.Acquire(ctx, Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	p.Release(s)

	got, err := p.AcquireByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = p.AcquireByID(ctx, "nope")
	assert.Equal(t, portalerr.KindSessionNotFound, portalerr.KindOf(err))
}

func TestAcquireByIDEvictsDeadSession(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(3, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	s, _, err := p.Acquire(ctx, Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	p.Release(s)
	drivers[0].Errs = map[string]error{"CurrentURL": errors.New("connection lost")}

	_, err = p.AcquireByID(ctx, s.ID)
	assert.Equal(t, portalerr.KindSessionDead, portalerr.KindOf(err))
	assert.Equal(t, 0, p.Len())
}

func TestEvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(2, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	s1, _, err := p.Acquire(ctx, Credentials{Username: "u1", Password: "pw"})
	require.NoError(t, err)
	p.Release(s1)
	time.Sleep(5 * time.Millisecond)

	s2, _, err := p.Acquire(ctx, Credentials{Username: "u2", Password: "pw"})
	require.NoError(t, err)
	p.Release(s2)

	s3, _, err := p.Acquire(ctx, Credentials{Username: "u3", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
	assert.True(t, drivers[0].Closed, "oldest session's browser should be closed")
	assert.False(t, drivers[1].Closed)
	p.Release(s3)
}

func TestCapacityExceededWhenAllInUse(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(1, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	s1, _, err := p.Acquire(ctx, Credentials{Username: "u1", Password: "pw"})
	require.NoError(t, err)

	_, _, err = p.Acquire(ctx, Credentials{Username: "u2", Password: "pw"})
	assert.Equal(t, portalerr.KindCapacityExceeded, portalerr.KindOf(err))

	p.Release(s1)
	s2, _, err := p.Acquire(ctx, Credentials{Username: "u2", Password: "pw"})
	require.NoError(t, err)
	p.Release(s2)
}

func TestConcurrentAcquireRespectsCapacity(t *testing.T) {
	// Slow logins widen the window between the capacity check and the
	// insert; the reservation must keep a second create out of the pool.
	login := func(_ context.Context, _ Credentials, _ string) (browser.Driver, error) {
		time.Sleep(50 * time.Millisecond)
		return &browsertest.Fake{URL: "https://portal.example/dashboard"}, nil
	}
	p := NewPool(1, login, newTestStore(t))
	ctx := context.Background()

	errs := make(chan error, 2)
	for _, user := range []string{"u1", "u2"} {
		go func(user string) {
			_, _, err := p.Acquire(ctx, Credentials{Username: user, Password: "pw"})
			errs <- err
		}(user)
	}

	successes, rejections := 0, 0
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			assert.Equal(t, portalerr.KindCapacityExceeded, portalerr.KindOf(err))
			rejections++
		} else {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)
	assert.LessOrEqual(t, p.Len(), 1, "live sessions never exceed the pool bound")

	require.NoError(t, p.Shutdown(ctx))
}

func TestLoginFailureDoesNotLeakSlots(t *testing.T) {
	boom := errors.New("portal down")
	login := func(_ context.Context, _ Credentials, _ string) (browser.Driver, error) {
		return nil, boom
	}
	p := NewPool(2, login, newTestStore(t))

	_, _, err := p.Acquire(context.Background(), Credentials{Username: "u", Password: "pw"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Len())
}

func TestCloseAndShutdown(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(5, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, _, err := p.Acquire(ctx, Credentials{Username: fmt.Sprintf("u%d", i), Password: "pw"})
		require.NoError(t, err)
		p.Release(s)
	}

	snapshot := p.Snapshot()
	require.Len(t, snapshot, 3)
	assert.True(t, p.Close(snapshot[0].SessionID))
	assert.False(t, p.Close(snapshot[0].SessionID))
	assert.Equal(t, 2, p.Len())

	require.NoError(t, p.Shutdown(ctx))
	assert.Equal(t, 0, p.Len())
	for _, d := range drivers {
		assert.True(t, d.Closed)
	}
}

func TestRefresherSkipsBusyAndFreshSessions(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(5, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	busy, _, err := p.Acquire(ctx, Credentials{Username: "busy", Password: "pw"})
	require.NoError(t, err)

	fresh, _, err := p.Acquire(ctx, Credentials{Username: "fresh", Password: "pw"})
	require.NoError(t, err)
	p.Release(fresh)

	r := NewRefresher(p, "https://portal.example/dashboard", "/login", time.Hour, time.Minute)
	r.SweepOnce(ctx)

	// busy is in use, fresh was refreshed within the interval: nothing navigates.
	assert.Equal(t, 0, drivers[0].CallCount("Navigate"))
	assert.Equal(t, 0, drivers[1].CallCount("Navigate"))
	p.Release(busy)
}

func TestRefresherRefreshesStaleSession(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(5, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	s, _, err := p.Acquire(ctx, Credentials{Username: "stale", Password: "pw"})
	require.NoError(t, err)
	p.Release(s)
	s.lastRefreshed.Store(time.Now().Add(-time.Hour).UnixNano())

	r := NewRefresher(p, "https://portal.example/dashboard", "/login", 5*time.Minute, time.Minute)
	r.SweepOnce(ctx)

	assert.Equal(t, 1, drivers[0].CallCount("Navigate"))
	assert.WithinDuration(t, time.Now(), s.LastRefreshed(), time.Second)
	assert.Equal(t, 1, p.Len())
}

func TestRefresherRemovesBouncedSession(t *testing.T) {
	var drivers []*browsertest.Fake
	p := NewPool(5, fakeLogin(&drivers), newTestStore(t))
	ctx := context.Background()

	s, _, err := p.Acquire(ctx, Credentials{Username: "expired", Password: "pw"})
	require.NoError(t, err)
	p.Release(s)
	s.lastRefreshed.Store(time.Now().Add(-time.Hour).UnixNano())

	// The portal redirects an expired session to the login page.
	drivers[0].OnNavigate = func(string) error {
		drivers[0].URL = "https://portal.example/login?expired"
		return nil
	}

	r := NewRefresher(p, "https://portal.example/dashboard", "/login", 5*time.Minute, time.Minute)
	r.SweepOnce(ctx)

	assert.Equal(t, 0, p.Len())
	assert.True(t, drivers[0].Closed)
}

func TestCredentialsHashStableAndDistinct(t *testing.T) {
	a := Credentials{Username: "alice", Password: "pw", CaptchaKey: "k1"}
	b := Credentials{Username: "alice", Password: "pw", CaptchaKey: "k2"}
	c := Credentials{Username: "alice", Password: "other"}

	assert.Equal(t, a.Hash(), b.Hash(), "captcha key must not affect identity")
	assert.NotEqual(t, a.Hash(), c.Hash())
}
