package manifest

import (
	"fmt"
	"strings"

	"github.com/alucardeht/mfhost/internal/fragment"
)

// Factory builds modules from manifest entries. JS fragments it builds load
// their assets through Assets.
type Factory struct {
	Assets fragment.AssetLoader
}

func (f *Factory) Build(e Entry) (fragment.Module, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}

	switch e.ResolvedKind() {
	case KindJS:
		return fragment.NewJS(e.Descriptor, e.JSOptions, f.Assets), nil

	default:
		m := fragment.NewNative(e.Descriptor)
		if e.Content != "" {
			content := e.Content
			m.Content = func() string { return content }
		}
		return m, nil
	}
}

// Validate checks an entry without building it.
func Validate(e Entry) error {
	id := strings.TrimSpace(e.ModuleID)
	if id == "" {
		return fmt.Errorf("%w: empty id", fragment.ErrInvalidModule)
	}
	if id != e.ModuleID {
		return fmt.Errorf("%w: id %q has surrounding whitespace", fragment.ErrInvalidModule, e.ModuleID)
	}

	switch e.ResolvedKind() {
	case KindJS:
		if e.ScriptURL == "" {
			return fmt.Errorf("%w: %s: js fragment without script_url", fragment.ErrInvalidModule, id)
		}
		if e.ElementID == "" {
			return fmt.Errorf("%w: %s: js fragment without element_id", fragment.ErrInvalidModule, id)
		}
		if e.Namespace == "" && e.Technology == "" {
			return fmt.Errorf("%w: %s: js fragment needs a technology or namespace", fragment.ErrInvalidModule, id)
		}
	case KindNative:
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", fragment.ErrInvalidModule, id, e.Kind)
	}

	return nil
}
