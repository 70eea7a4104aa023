// Package spaceloader resolves a space reference into a validated space.
//
// References:
//
//	builtin:<name>         a space compiled into the binary (space.Register)
//	path.yaml|.yml|.json   a declarative space document
//	path (executable)      a plugin run as "<path> get-space" that prints a document
//
// Plugins execute arbitrary code with the caller's privileges.
package spaceloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/domain/space"
	"github.com/kailas-cloud/tuner/internal/logger"
	"github.com/kailas-cloud/tuner/internal/transport/process"
)

const (
	builtinPrefix = "builtin:"
	pluginArg     = "get-space"
)

// runner executes the plugin process.
type runner interface {
	Run(ctx context.Context, req process.Request) (process.Result, error)
}

// Loader loads spaces.
type Loader struct {
	runner        runner
	pluginTimeout time.Duration
}

// New creates a Loader. pluginTimeout bounds a plugin invocation.
func New(r runner, pluginTimeout time.Duration) *Loader {
	if pluginTimeout <= 0 {
		pluginTimeout = 30 * time.Second
	}
	return &Loader{runner: r, pluginTimeout: pluginTimeout}
}

// Load resolves ref. Every failure wraps domain.ErrConfig.
func (l *Loader) Load(ctx context.Context, ref string) (*space.Space, error) {
	if ref == "" {
		return nil, domain.Configf("space reference is required")
	}

	if name, ok := strings.CutPrefix(ref, builtinPrefix); ok {
		s, found := space.Lookup(name)
		if !found {
			return nil, domain.Configf("unknown builtin space %q (available: %s)",
				name, strings.Join(space.Registered(), ", "))
		}
		return s, nil
	}

	info, err := os.Stat(ref)
	if err != nil {
		return nil, domain.Configf("space %s: %v", ref, err)
	}
	if info.IsDir() {
		return nil, domain.Configf("space %s is a directory", ref)
	}

	switch strings.ToLower(filepath.Ext(ref)) {
	case ".yaml", ".yml", ".json":
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, domain.Configf("read space %s: %v", ref, err)
		}
		return parse(ref, data)
	}

	if info.Mode().Perm()&0o111 == 0 {
		return nil, domain.Configf("space %s: unsupported file (want .yaml, .yml, .json or an executable plugin)", ref)
	}
	return l.runPlugin(ctx, ref)
}

func (l *Loader) runPlugin(ctx context.Context, path string) (*space.Space, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, domain.Configf("space plugin %s: %v", path, err)
	}
	logger.FromContext(ctx).Warn("executing space plugin",
		zap.String("plugin", abs),
		zap.String("arg", pluginArg),
	)

	ctx, cancel := context.WithTimeout(ctx, l.pluginTimeout)
	defer cancel()

	res, err := l.runner.Run(ctx, process.Request{Argv: []string{abs, pluginArg}, Capture: true})
	if err != nil {
		var exitErr *process.ExitError
		if errors.As(err, &exitErr) && exitErr.StderrTail != "" {
			return nil, fmt.Errorf("%w: space plugin %s: %w\n%s", domain.ErrConfig, path, err, strings.TrimSpace(exitErr.StderrTail))
		}
		return nil, fmt.Errorf("%w: space plugin %s: %w", domain.ErrConfig, path, err)
	}
	return parse(path, res.Stdout)
}

func parse(ref string, data []byte) (*space.Space, error) {
	s, err := space.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: space %s: %w", domain.ErrConfig, ref, err)
	}
	return s, nil
}
