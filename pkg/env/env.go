package env

import (
	"strings"
	"time"

	"github.com/caseway/caseway/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Process reads the environment variables set for caseway and
// returns the resulting configuration value object.
func Process() (Environment, error) {
	vars := Environment{}

	if err := envconfig.Process("caseway", &vars); err != nil {
		return vars, errors.Wrap(err, "failed to process environment variables")
	}

	if err := log.SetLevelFromString(vars.LogLevel); err != nil {
		return vars, errors.Wrap(err, "failed to set log level")
	}

	return vars, nil
}

// Environment defines the environment variables used by caseway.
type Environment struct {
	LogLevel string `default:"info"`
	Port     int    `default:"8080"`

	DatabaseType string `default:"sqlite"`
	DatabaseDSN  string `default:""`
	DBPath       string `default:"caseway.db"`

	WatchPath    string        `default:"new_cases"`
	ScanInterval time.Duration `default:"5s"`
	ScanIgnore   string        `default:".*,*.tmp,*.partial"`

	PollInterval   time.Duration `default:"10s"`
	RunningTimeout time.Duration `default:"24h"`

	ResourceGroups string `default:"default"`

	HPCUser          string        `default:""`
	HPCHost          string        `default:""`
	SSHCommand       string        `default:"ssh"`
	SCPCommand       string        `default:"scp"`
	PueueCommand     string        `default:"pueue"`
	RemoteBaseDir    string        `default:"~/cases"`
	RemoteRunCommand string        `default:"python3 interpreter.py"`
	RemoteTimeout    time.Duration `default:"30s"`
}

// Groups returns the configured resource pool as a list of
// pueue group names.
func (e Environment) Groups() []string {
	groups := make([]string, 0)

	for _, group := range strings.Split(e.ResourceGroups, ",") {
		if group = strings.TrimSpace(group); group != "" {
			groups = append(groups, group)
		}
	}

	return groups
}

// IgnorePatterns returns the configured scanner ignore globs.
func (e Environment) IgnorePatterns() []string {
	patterns := make([]string, 0)

	for _, pattern := range strings.Split(e.ScanIgnore, ",") {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}

	return patterns
}
