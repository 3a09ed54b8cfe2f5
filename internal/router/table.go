package router

import "github.com/alucardeht/mfhost/internal/fragment"

// Entry is one row of the route table.
type Entry struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	ModuleID string `json:"module_id"`
}

// BuildTable flattens the routes of modules in order. Paths need not be
// unique; lookups take the first matching entry.
func BuildTable(modules []fragment.Module) []Entry {
	var table []Entry
	for _, module := range modules {
		for _, route := range module.Routes() {
			table = append(table, Entry{
				Path:     route.Path,
				Title:    route.Title,
				ModuleID: module.ID(),
			})
		}
	}
	return table
}

// Lookup returns the first entry whose path matches under mode.
func Lookup(table []Entry, mode Mode, path string) (Entry, bool) {
	for _, entry := range table {
		if mode.Match(entry.Path, path) {
			return entry, true
		}
	}
	return Entry{}, false
}
