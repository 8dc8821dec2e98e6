//go:build unix

package host_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Duskaraa/Plots-Manager/internal/host"
	"github.com/Duskaraa/Plots-Manager/internal/lifecycle"
)

func TestSignalSource_DeliversTermination(t *testing.T) {
	src := host.NewSignalSource(syscall.SIGUSR1)
	defer src.Close()

	got := make(chan lifecycle.FatalSignal, 1)
	require.NoError(t, src.SubscribeFatal(func(sig lifecycle.FatalSignal) { got <- sig }))

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case sig := <-got:
		assert.Equal(t, syscall.SIGUSR1.String(), sig.Reason())
		term := sig.(*host.Termination)
		assert.False(t, term.Cancelled())
		require.NoError(t, sig.Cancel())
		assert.True(t, term.Cancelled())
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}
}

func TestSignalSource_Unavailable(t *testing.T) {
	src := host.NewSignalSource()
	assert.ErrorIs(t, src.SubscribeFatal(func(lifecycle.FatalSignal) {}), host.ErrUnavailable)

	closed := host.NewSignalSource(syscall.SIGUSR2)
	closed.Close()
	closed.Close()
	assert.ErrorIs(t, closed.SubscribeFatal(func(lifecycle.FatalSignal) {}), host.ErrUnavailable)
}
