package library

import (
	"context"
	"io/fs"
	"os"
	"plugin"
	"strings"

	"github.com/wippyai/layoutcheck/errors"
)

// PluginOpener opens Go plugins built with -buildmode=plugin. Go plugins can
// never be unloaded, so Close is a no-op.
type PluginOpener struct{}

// Extension implements Extensioner.
func (PluginOpener) Extension() string {
	return ".so"
}

// Open loads the plugin at path.
func (PluginOpener) Open(_ context.Context, path string) (Library, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(path, err)
		}
		return nil, errors.Wrap(errors.PhaseOpen, errors.KindInvalidInput, err, "stat "+path)
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseOpen, errors.KindInvalidData, err, "open plugin "+path)
	}
	return &pluginLibrary{path: path, plugin: p}, nil
}

type pluginLibrary struct {
	plugin *plugin.Plugin
	path   string
}

func (l *pluginLibrary) Path() string {
	return l.path
}

func (l *pluginLibrary) Symbol(_ context.Context, name string) ([]byte, error) {
	sym, err := l.plugin.Lookup(name)
	if err != nil {
		if sym, err = l.plugin.Lookup(GoSymbolName(name)); err != nil {
			return nil, errors.SymbolMissing(l.path, name, err)
		}
	}
	switch v := sym.(type) {
	case *[]byte:
		return append([]byte(nil), (*v)...), nil
	case func() []byte:
		return append([]byte(nil), v()...), nil
	default:
		return nil, errors.New(errors.PhaseOpen, errors.KindInvalidData).
			Path(l.path, name).
			Detail("symbol has type %T, want *[]byte or func() []byte", sym).
			Build()
	}
}

func (l *pluginLibrary) Close(context.Context) error {
	return nil
}

// GoSymbolName converts a snake_case symbol name to the exported Go
// identifier a plugin declares for it: layoutcheck_root_module becomes
// LayoutcheckRootModule.
func GoSymbolName(name string) string {
	var b strings.Builder
	for part := range strings.SplitSeq(name, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
