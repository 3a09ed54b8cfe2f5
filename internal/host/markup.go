package host

import (
	"fmt"
	"html"
	"strings"
)

const (
	hostClass      = "microfrontend-host"
	containerClass = "js-microfrontend-container"

	// NotFoundMarkup is what a router view shows for an unmatched path.
	NotFoundMarkup = `<div class="not-found">The requested microfrontend route was not found.</div>`
)

// Templates are the caller-supplied pieces of markup a slot shows outside
// of module content. Zero fields fall back to DefaultTemplates.
type Templates struct {
	Fallback string
	Loading  string
	Error    func(message string) string
}

func DefaultTemplates() Templates {
	return Templates{
		Loading: `<div class="loading">Loading...</div>`,
		Error: func(message string) string {
			return `<div class="error">` + html.EscapeString(message) + `</div>`
		},
	}
}

func (t Templates) withDefaults() Templates {
	d := DefaultTemplates()
	if t.Loading == "" {
		t.Loading = d.Loading
	}
	if t.Error == nil {
		t.Error = d.Error
	}
	return t
}

func MissingModuleMessage(id string) string {
	return fmt.Sprintf("No microfrontend module with ID '%s' was found.", id)
}

// wrapHost produces the host element. A bound module id is carried as
// data-module-id so the page can tell slots apart.
func wrapHost(id, moduleID, extraClass, inner string) string {
	class := hostClass
	if extra := strings.TrimSpace(extraClass); extra != "" {
		class += " " + extra
	}

	var module string
	if moduleID != "" {
		module = fmt.Sprintf(` data-module-id="%s"`, html.EscapeString(moduleID))
	}

	return fmt.Sprintf(`<div class="%s" id="%s"%s>%s</div>`,
		html.EscapeString(class), html.EscapeString(id), module, inner)
}

func jsContainer(elementID, extraClass string) string {
	class := containerClass
	if extra := strings.TrimSpace(extraClass); extra != "" {
		class += " " + extra
	}
	return fmt.Sprintf(`<div id="%s" class="%s"></div>`,
		html.EscapeString(elementID), html.EscapeString(class))
}
