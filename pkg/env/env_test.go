package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessDefaults(t *testing.T) {
	vars, err := Process()
	require.NoError(t, err)

	require.Equal(t, "info", vars.LogLevel)
	require.Equal(t, 8080, vars.Port)
	require.Equal(t, "sqlite", vars.DatabaseType)
	require.Equal(t, "new_cases", vars.WatchPath)
	require.Equal(t, 10*time.Second, vars.PollInterval)
	require.Equal(t, 24*time.Hour, vars.RunningTimeout)
	require.Equal(t, 30*time.Second, vars.RemoteTimeout)
	require.Equal(t, []string{"default"}, vars.Groups())
}

func TestProcessOverrides(t *testing.T) {
	t.Setenv("CASEWAY_PORT", "9090")
	t.Setenv("CASEWAY_RUNNINGTIMEOUT", "2h")
	t.Setenv("CASEWAY_RESOURCEGROUPS", "gpu0, gpu1,gpu2")

	vars, err := Process()
	require.NoError(t, err)

	require.Equal(t, 9090, vars.Port)
	require.Equal(t, 2*time.Hour, vars.RunningTimeout)
	require.Equal(t, []string{"gpu0", "gpu1", "gpu2"}, vars.Groups())
}

func TestProcessRejectsBadLogLevel(t *testing.T) {
	t.Setenv("CASEWAY_LOGLEVEL", "noisy")

	_, err := Process()
	require.Error(t, err)
}

func TestGroupsSkipsEmptyEntries(t *testing.T) {
	vars := Environment{ResourceGroups: "gpu0,, gpu1 ,"}
	require.Equal(t, []string{"gpu0", "gpu1"}, vars.Groups())

	vars = Environment{ResourceGroups: " , "}
	require.Empty(t, vars.Groups())
}

func TestIgnorePatterns(t *testing.T) {
	vars := Environment{ScanIgnore: ".*, *.tmp,,*.partial"}
	require.Equal(t, []string{".*", "*.tmp", "*.partial"}, vars.IgnorePatterns())
}
