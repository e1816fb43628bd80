// Package launch builds the environment and argument list for the aider
// child process.
package launch

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// ConfigFileName is aider's own per-project and per-user config file.
	ConfigFileName = ".aider.conf.yml"

	// APIBaseVar is honoured when present in the ambient environment.
	APIBaseVar     = "OPENAI_API_BASE"
	DefaultAPIBase = "https://api.openai.com/v1"
)

// compatArgs keep aider's output renderable by a plain xterm-compatible
// surface and stop it from probing the network on startup.
var compatArgs = []string{
	"--pretty",
	"--stream",
	"--no-check-update",
	"--no-show-release-notes",
}

// terminalEnv forces color output and a definite terminal type.
var terminalEnv = map[string]string{
	"TERM":           "xterm-256color",
	"COLORTERM":      "truecolor",
	"FORCE_COLOR":    "1",
	"CLICOLOR_FORCE": "1",
}

type Options struct {
	Model   string
	WorkDir string
	// Environ is the ambient environment in os.Environ form.
	Environ []string
	// LocalBinDir is prepended to PATH when set.
	LocalBinDir string
	// ConfigPaths overrides the config file search list. When nil the
	// working directory and then the home directory are searched.
	ConfigPaths []string
	Logger      *slog.Logger
}

// Launch is everything needed to spawn the child.
type Launch struct {
	Env         map[string]string
	Args        []string
	ExtraModels []Model
	// ConfigFile is the user config that was applied, if any.
	ConfigFile string
}

// Build never fails: a missing or malformed user config falls back to
// defaults with a warning.
func Build(opts Options) Launch {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := parseEnviron(opts.Environ)
	for k, v := range terminalEnv {
		env[k] = v
	}
	if strings.TrimSpace(env[APIBaseVar]) == "" {
		env[APIBaseVar] = DefaultAPIBase
	}
	if opts.LocalBinDir != "" {
		env["PATH"] = prependPath(env["PATH"], opts.LocalBinDir)
	}

	args := make([]string, 0, 2+len(compatArgs)+4)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, compatArgs...)

	l := Launch{Env: env}

	paths := opts.ConfigPaths
	if paths == nil {
		paths = defaultConfigPaths(opts.WorkDir, env["HOME"])
	}
	cfg, path, err := loadFirst(paths)
	switch {
	case err != nil:
		logger.Warn("ignoring unreadable aider config", "path", path, "error", err)
	case path != "":
		l.ConfigFile = path
		args = append(args, cfg.args()...)
		for k, v := range cfg.SetEnv {
			env[k] = v
		}
		l.ExtraModels = cfg.ExtraModels
	}

	l.Args = args
	return l
}

// Environ flattens Env into sorted KEY=VALUE pairs.
func (l Launch) Environ() []string {
	out := make([]string, 0, len(l.Env))
	for k, v := range l.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func parseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ)+len(terminalEnv)+1)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

func prependPath(path, dir string) string {
	for _, p := range filepath.SplitList(path) {
		if p == dir {
			return path
		}
	}
	if path == "" {
		return dir
	}
	return dir + string(os.PathListSeparator) + path
}

func defaultConfigPaths(workDir, home string) []string {
	var paths []string
	if workDir != "" {
		paths = append(paths, filepath.Join(workDir, ConfigFileName))
	}
	if home != "" {
		paths = append(paths, filepath.Join(home, ConfigFileName))
	}
	return paths
}

// loadFirst parses the first config file in paths that exists. It returns
// an empty path when none does.
func loadFirst(paths []string) (*UserConfig, string, error) {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, err
		}
		cfg, err := ParseUserConfig(data)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}
	return nil, "", nil
}
