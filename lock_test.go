package locktree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	minDelay        = 9 * time.Millisecond
	maxTestDuration = time.Second
)

type acquireFunc func(context.Context) (func(), error)

func mustAcquire(t *testing.T, method acquireFunc) func() {
	release, err := method(context.Background())
	require.NoError(t, err)
	return release
}

// testLocked checks that method blocks until release is called.
func testLocked(t *testing.T, release func(), method acquireFunc) {
	released := make(chan struct{})
	access := func() <-chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			r, err := method(context.Background())
			if err != nil {
				t.Error(err)
				return
			}

			select {
			case <-released:
			default:
				t.Error("acquired before released")
			}

			r()
		}()

		return done
	}

	done1 := access()
	done2 := access()
	time.Sleep(minDelay)
	close(released)
	release()
	<-done1
	<-done2
}

// acquireAsync requests the lock in the background, and reports on the returned channel when it was granted.
func acquireAsync(ctx context.Context, method acquireFunc) <-chan func() {
	c := make(chan func(), 1)
	go func() {
		release, err := method(ctx)
		if err != nil {
			close(c)
			return
		}

		c <- release
	}()

	return c
}

func testRun(t *testing.T, name string, test func(*testing.T)) {
	t.Run(name, func(t *testing.T) {
		done := make(chan struct{})
		timeout := time.After(maxTestDuration)
		go func() {
			select {
			case <-done:
			case <-timeout:
				panic("test did not complete: " + t.Name())
			}
		}()

		test(t)
		close(done)
	})
}

func TestRWLockRead(t *testing.T) {
	testRun(t, "single", func(t *testing.T) {
		l := new(RWLock)
		r := mustAcquire(t, l.Read)
		r()
	})

	testRun(t, "multiple", func(t *testing.T) {
		l := NewRWLock()
		r1 := mustAcquire(t, l.Read)
		r2 := mustAcquire(t, l.Read)
		r1()
		r2()
	})

	testRun(t, "write locked", func(t *testing.T) {
		l := NewRWLock()
		w := mustAcquire(t, l.Write)
		testLocked(t, w, l.Read)
	})

	testRun(t, "released in different order", func(t *testing.T) {
		l := NewRWLock()
		r1 := mustAcquire(t, l.Read)
		r2 := mustAcquire(t, l.Read)
		r3 := mustAcquire(t, l.Read)
		r2()
		r3()
		r1()
		w := mustAcquire(t, l.Write)
		w()
	})
}

func TestRWLockWrite(t *testing.T) {
	testRun(t, "unlocked", func(t *testing.T) {
		l := NewRWLock()
		w := mustAcquire(t, l.Write)
		w()
	})

	testRun(t, "write locked", func(t *testing.T) {
		l := NewRWLock()
		w := mustAcquire(t, l.Write)
		testLocked(t, w, l.Write)
	})

	testRun(t, "read locked", func(t *testing.T) {
		l := NewRWLock()
		r := mustAcquire(t, l.Read)
		testLocked(t, r, l.Write)
	})

	testRun(t, "multiple readers", func(t *testing.T) {
		l := NewRWLock()
		r1 := mustAcquire(t, l.Read)
		r2 := mustAcquire(t, l.Read)
		granted := acquireAsync(context.Background(), l.Write)
		r1()
		time.Sleep(minDelay)
		select {
		case <-granted:
			t.Fatal("acquired before all readers released")
		default:
		}

		r2()
		w := <-granted
		require.NotNil(t, w)
		w()
	})
}

func TestRWLockFairness(t *testing.T) {
	testRun(t, "reader waits for earlier writer", func(t *testing.T) {
		l := NewRWLock()
		r1 := mustAcquire(t, l.Read)
		writeGranted := acquireAsync(context.Background(), l.Write)
		time.Sleep(minDelay)
		readGranted := acquireAsync(context.Background(), l.Read)
		time.Sleep(minDelay)
		select {
		case <-readGranted:
			t.Fatal("reader overtook waiting writer")
		default:
		}

		r1()
		w := <-writeGranted
		select {
		case <-readGranted:
			t.Fatal("reader acquired while writer holds the lock")
		case <-time.After(minDelay):
		}

		w()
		r2 := <-readGranted
		require.NotNil(t, r2)
		r2()
	})

	testRun(t, "readers behind writer proceed together", func(t *testing.T) {
		l := NewRWLock()
		w := mustAcquire(t, l.Write)
		r1 := acquireAsync(context.Background(), l.Read)
		r2 := acquireAsync(context.Background(), l.Read)
		time.Sleep(minDelay)
		w()
		release1 := <-r1
		release2 := <-r2
		require.NotNil(t, release1)
		require.NotNil(t, release2)
		release1()
		release2()
	})

	testRun(t, "writers in request order", func(t *testing.T) {
		l := NewRWLock()
		w := mustAcquire(t, l.Write)
		order := make(chan int, 3)
		for i := 0; i < 3; i++ {
			granted := acquireAsync(context.Background(), l.Write)
			go func() {
				release := <-granted
				order <- i
				release()
			}()

			time.Sleep(minDelay)
		}

		w()
		for i := 0; i < 3; i++ {
			assert.Equal(t, i, <-order)
		}
	})
}

func TestRWLockCancel(t *testing.T) {
	testRun(t, "waiting reader", func(t *testing.T) {
		l := NewRWLock()
		w := mustAcquire(t, l.Write)
		ctx, cancel := context.WithTimeout(context.Background(), minDelay)
		defer cancel()
		r, err := l.Read(ctx)
		assert.Nil(t, r)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		w()
		w = mustAcquire(t, l.Write)
		w()
	})

	testRun(t, "waiting writer unblocks later readers", func(t *testing.T) {
		l := NewRWLock()
		r1 := mustAcquire(t, l.Read)
		ctx, cancel := context.WithCancel(context.Background())
		writeGranted := acquireAsync(ctx, l.Write)
		time.Sleep(minDelay)
		readGranted := acquireAsync(context.Background(), l.Read)
		time.Sleep(minDelay)
		cancel()
		_, ok := <-writeGranted
		assert.False(t, ok)
		r2 := <-readGranted
		require.NotNil(t, r2)
		r2()
		r1()
		w := mustAcquire(t, l.Write)
		w()
	})

	testRun(t, "already canceled", func(t *testing.T) {
		l := NewRWLock()
		r := mustAcquire(t, l.Read)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		w, err := l.Write(ctx)
		assert.Nil(t, w)
		assert.ErrorIs(t, err, context.Canceled)
		r()
		assert.True(t, l.pending.empty())
	})
}

func TestExclusive(t *testing.T) {
	testRun(t, "unlocked", func(t *testing.T) {
		l := NewExclusive()
		r := mustAcquire(t, l.Read)
		r()
		w := mustAcquire(t, l.Write)
		w()
	})

	testRun(t, "read blocks read", func(t *testing.T) {
		l := NewExclusive()
		r := mustAcquire(t, l.Read)
		testLocked(t, r, l.Read)
	})

	testRun(t, "read blocks write", func(t *testing.T) {
		l := NewExclusive()
		r := mustAcquire(t, l.Read)
		testLocked(t, r, l.Write)
	})

	testRun(t, "write blocks read", func(t *testing.T) {
		l := NewExclusive()
		w := mustAcquire(t, l.Write)
		testLocked(t, w, l.Read)
	})

	testRun(t, "cancel", func(t *testing.T) {
		l := NewExclusive()
		w := mustAcquire(t, l.Write)
		ctx, cancel := context.WithTimeout(context.Background(), minDelay)
		defer cancel()
		r, err := l.Read(ctx)
		assert.Nil(t, r)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		w()
		r = mustAcquire(t, l.Read)
		r()
	})
}
