// Package plugin implements plugin metadata extraction and discovery.
//
// A plugin is a self-describing external script: a fenced metadata block
// near the top of the file declares what the plugin matches and how it may
// be invoked. Discovery walks plugin roots, extracts metadata without ever
// executing a candidate, and keeps a modification-time-keyed cache so a
// large plugin tree costs one stat per file on the warm path.
package plugin

// Role declares what a plugin can do in a pipeline.
type Role string

const (
	// RoleSource plugins originate records (read mode only).
	RoleSource Role = "source"
	// RoleFilter plugins transform a record stream (read and write).
	RoleFilter Role = "filter"
	// RoleTarget plugins consume records (write mode only).
	RoleTarget Role = "target"
)

// Metadata describes a discovered plugin. It is created by Extract at
// discovery time and re-created only when the source file's modification
// time advances past the cached value.
type Metadata struct {
	// Name is the plugin's file stem, e.g. "csv_" for formats/csv_.py.
	Name string `json:"name"`

	// Path is the absolute path to the plugin script.
	Path string `json:"path"`

	// ModTime is the script's modification time in Unix nanoseconds.
	ModTime int64 `json:"mtime"`

	// Matches holds the declared activation patterns (ordered, may be
	// empty for name-only plugins such as filters).
	Matches []string `json:"matches"`

	// Requires is the declared runtime version requirement.
	Requires string `json:"requires,omitempty"`

	// Dependencies lists the plugin's declared dependencies.
	Dependencies []string `json:"dependencies,omitempty"`

	// Role is the declared capability role, if any.
	Role Role `json:"role,omitempty"`

	// Category is inferred from the plugin's directory (protocols/,
	// formats/, filters/) when the metadata block does not declare a role.
	Category string `json:"category,omitempty"`

	// SupportsRaw marks protocol plugins that can emit raw bytes for a
	// downstream format stage instead of parsed records.
	SupportsRaw bool `json:"supports_raw,omitempty"`

	// ManagesParameters marks plugins that parse their own address
	// parameters; the resolver leaves the query string in the URL.
	ManagesParameters bool `json:"manages_parameters,omitempty"`
}

// CanRead reports whether the plugin may run in read mode.
func (m *Metadata) CanRead() bool {
	return m.Role != RoleTarget
}

// CanWrite reports whether the plugin may run in write mode.
func (m *Metadata) CanWrite() bool {
	return m.Role != RoleSource
}
