package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteRunsHooksInPhaseOrder(t *testing.T) {
	m := NewManager()

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Registration order deliberately reversed from phase order
	m.RegisterQueueShutdown("queue", record("queue"))
	m.RegisterSupervisorShutdown("supervisor", record("supervisor"))
	m.RegisterHTTPShutdown("http", record("http"))

	require.NoError(t, m.Execute())
	require.Equal(t, []string{"http", "supervisor", "queue"}, order)
}

func TestExecuteContinuesPastFailingHook(t *testing.T) {
	m := NewManager()

	var ran bool
	m.RegisterHTTPShutdown("broken", func(ctx context.Context) error {
		return errors.New("listener already closed")
	})
	m.RegisterSupervisorShutdown("supervisor", func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, m.Execute())
	require.True(t, ran)
}

func TestExecuteBoundsSlowHooks(t *testing.T) {
	m := NewManager()
	m.SetShutdownTimeout(200 * time.Millisecond)
	m.RegisterHook(ShutdownHook{
		Name:    "stuck",
		Phase:   PhaseHTTP,
		Timeout: 50 * time.Millisecond,
		Shutdown: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(time.Hour)
			return nil
		},
	})

	start := time.Now()
	require.NoError(t, m.Execute())
	require.Less(t, time.Since(start), time.Second)
}

func TestTerminationSignalRunsOneGracefulShutdown(t *testing.T) {
	// Keeps the default SIGTERM disposition disabled for the whole test, so
	// the signal below cannot kill the test process before WaitForSignal has
	// registered its own handler
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGTERM)
	defer signal.Stop(guard)

	m := NewManager()

	var shutdowns atomic.Int32
	m.RegisterSupervisorShutdown("supervisor", func(ctx context.Context) error {
		shutdowns.Add(1)
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- m.Run()
	}()

	// Let Run reach WaitForSignal before delivering the signal
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("termination signal did not trigger shutdown")
	}
	require.Equal(t, int32(1), shutdowns.Load())
}

func TestDumpSignalDoesNotTriggerShutdown(t *testing.T) {
	guard := make(chan os.Signal, 2)
	signal.Notify(guard, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(guard)

	m := NewManager()

	var dumps atomic.Int32
	m.OnDumpSignal(func() { dumps.Add(1) })

	done := make(chan struct{})
	go func() {
		m.WaitForSignal()
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	// The dump is serviced while waiting; only a termination signal returns
	require.Eventually(t, func() bool { return dumps.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	select {
	case <-done:
		t.Fatal("introspection signal ended the wait loop")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("termination signal did not end the wait loop")
	}
}

func TestProgrammaticShutdownWakesWait(t *testing.T) {
	m := NewManager()

	done := make(chan struct{})
	go func() {
		m.WaitForSignal()
		close(done)
	}()

	m.Shutdown()
	// Idempotent
	m.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSignal did not return after programmatic shutdown")
	}
}
