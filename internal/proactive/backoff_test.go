package proactive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelaySchedule(t *testing.T) {
	require.Equal(t, time.Duration(0), backoffDelay(0))
	require.Equal(t, 30*time.Second, backoffDelay(1))
	require.Equal(t, 60*time.Second, backoffDelay(2))
	require.Equal(t, 300*time.Second, backoffDelay(3))
	require.Equal(t, 900*time.Second, backoffDelay(4))
	require.Equal(t, 3600*time.Second, backoffDelay(5))
}

func TestBackoffDelayClampsAtLastEntry(t *testing.T) {
	require.Equal(t, 3600*time.Second, backoffDelay(6))
	require.Equal(t, 3600*time.Second, backoffDelay(100))
}
