package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	daemon := createTestDaemon(t)

	lm := NewLifecycleManager(daemon)
	assert.NotNil(t, lm)
	assert.Equal(t, daemon, lm.daemon)
	assert.Equal(t, filepath.Join(daemon.config.DataDir, "legate.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	daemon := createTestDaemon(t)
	lm := NewLifecycleManager(daemon)

	// Start
	err := lm.Start()
	require.NoError(t, err)

	// Verify PID file exists
	_, err = os.Stat(lm.pidFile)
	assert.NoError(t, err)

	// Stop
	err = lm.Stop()
	require.NoError(t, err)

	// Verify PID file is removed
	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestLifecycleManagerGetPID(t *testing.T) {
	daemon := createTestDaemon(t)
	lm := NewLifecycleManager(daemon)

	// Start to create PID file
	err := lm.Start()
	require.NoError(t, err)
	defer lm.Stop()

	// Get PID
	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLifecycleManagerIsRunning(t *testing.T) {
	daemon := createTestDaemon(t)
	lm := NewLifecycleManager(daemon)

	// No PID file yet
	assert.False(t, lm.IsRunning())

	require.NoError(t, lm.Start())
	defer lm.Stop()

	// The test process itself is alive
	assert.True(t, lm.IsRunning())
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))

	// PIDs beyond the kernel maximum cannot exist
	assert.False(t, ProcessAlive(1<<30))
}
