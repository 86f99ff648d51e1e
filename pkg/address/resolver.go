package address

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/botassembly/jn/pkg/exec"
	"github.com/botassembly/jn/pkg/plugin"
	"github.com/botassembly/jn/pkg/profile"
	"github.com/botassembly/jn/pkg/registry"
)

// Mode selects the plugin invocation direction.
type Mode string

const (
	// ModeRead emits newline-delimited JSON from an external input.
	ModeRead Mode = "read"
	// ModeWrite consumes newline-delimited JSON from stdin.
	ModeWrite Mode = "write"
	// ModeRaw streams raw bytes, used by protocol fetch and
	// decompression stages inside multi-stage plans.
	ModeRaw Mode = "raw"
)

// passthroughPlugin is the fixed line-delimited-JSON plugin used for stdio
// addresses in either mode.
const passthroughPlugin = "ndjson_"

// fetchPlugin is the generic remote-fetch plugin that backs profile
// namespaces without a dedicated plugin.
const fetchPlugin = "http_"

// Resolved is the outcome of resolving one address: a concrete plugin, its
// invocation configuration, and any resolved URL and headers. It is
// produced per resolution call and consumed immediately.
type Resolved struct {
	Address    *Address
	PluginName string
	PluginPath string
	Config     map[string]any
	URL        string
	Headers    map[string]string
}

// ResolutionError reports that no plugin matched an address. The known
// plugin list is the remediation hint: it tells the operator what the
// current discovery roots actually provide.
type ResolutionError struct {
	Address string
	Reason  string
	Known   []string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %s: %s", e.Address, e.Reason)
	if len(e.Known) > 0 {
		msg += fmt.Sprintf(" (known plugins: %s)", strings.Join(e.Known, ", "))
	}
	return msg
}

// Resolver combines discovered plugins, the pattern registry, and the
// profile store. It is constructed once per invocation and passed by
// reference; there is no process-wide instance.
type Resolver struct {
	plugins  map[string]*plugin.Metadata
	registry *registry.Registry
	profiles profile.Store

	// Runner is the command prefix that executes a plugin script,
	// e.g. ["uv", "run", "--script"].
	Runner []string
}

// NewResolver builds a resolver over a discovery result.
func NewResolver(plugins map[string]*plugin.Metadata, profiles profile.Store, runner []string) *Resolver {
	return &Resolver{
		plugins:  plugins,
		registry: registry.Build(plugins),
		profiles: profiles,
		Runner:   runner,
	}
}

// Registry exposes the compiled pattern registry.
func (r *Resolver) Registry() *registry.Registry {
	return r.registry
}

// Resolve maps a parsed address plus an I/O mode to a concrete plugin and
// its configuration.
func (r *Resolver) Resolve(addr *Address, mode Mode) (*Resolved, error) {
	meta, err := r.findPlugin(addr, mode)
	if err != nil {
		return nil, err
	}

	if mode == ModeRead && !meta.CanRead() {
		return nil, r.resolutionError(addr, fmt.Sprintf("plugin %s cannot act as a source", meta.Name))
	}
	if mode == ModeWrite && !meta.CanWrite() {
		return nil, r.resolutionError(addr, fmt.Sprintf("plugin %s cannot act as a target", meta.Name))
	}

	// Plugins that manage their own parameters receive them through the
	// URL instead of coerced config flags.
	config := map[string]any{}
	if !meta.ManagesParameters {
		config = CoerceConfig(addr.Parameters)
	}

	url, headers, err := r.resolveURL(addr, meta)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		Address:    addr,
		PluginName: meta.Name,
		PluginPath: meta.Path,
		Config:     config,
		URL:        url,
		Headers:    headers,
	}, nil
}

// findPlugin applies the resolution priority order: explicit format
// override, protocol scheme, profile namespace, direct plugin name, stdio
// passthrough, then pattern match on the file path.
func (r *Resolver) findPlugin(addr *Address, mode Mode) (*plugin.Metadata, error) {
	if addr.FormatOverride != "" {
		return r.findByFormat(addr, addr.FormatOverride)
	}

	switch addr.Kind {
	case KindProtocol:
		return r.findByProtocol(addr)

	case KindProfile:
		namespace := strings.SplitN(strings.TrimPrefix(addr.Base, "@"), "/", 2)[0]
		if meta, ok := r.byName(namespace); ok {
			return meta, nil
		}
		if meta, ok := r.byName(fetchPlugin); ok {
			return meta, nil
		}
		return nil, r.resolutionError(addr, fmt.Sprintf("no plugin for profile namespace %q and no %s fallback", namespace, fetchPlugin))

	case KindPlugin:
		name := strings.TrimPrefix(addr.Base, "@")
		if meta, ok := r.byName(name); ok {
			return meta, nil
		}
		return nil, r.resolutionError(addr, fmt.Sprintf("plugin %q not found", name))

	case KindStdio:
		if meta, ok := r.byName(passthroughPlugin); ok {
			return meta, nil
		}
		return nil, r.resolutionError(addr, fmt.Sprintf("passthrough plugin %s not found", passthroughPlugin))

	default: // KindFile
		if name, ok := r.registry.Match(addr.Base); ok {
			if meta, found := r.plugins[name]; found {
				return meta, nil
			}
		}
		return nil, r.resolutionError(addr, fmt.Sprintf("no plugin matches %q", addr.Base))
	}
}

// findByFormat looks a plugin up by format name: exact, reserved suffix,
// then category-path substring.
func (r *Resolver) findByFormat(addr *Address, format string) (*plugin.Metadata, error) {
	if meta, ok := r.byName(format); ok {
		return meta, nil
	}
	for _, meta := range r.sorted() {
		if strings.Contains(filepathToSlash(meta.Path), "/formats/"+format) {
			return meta, nil
		}
	}
	return nil, r.resolutionError(addr, fmt.Sprintf("no plugin for format %q", format))
}

// findByProtocol looks a plugin up by URL scheme, falling back to a
// pattern match against the full URL.
func (r *Resolver) findByProtocol(addr *Address) (*plugin.Metadata, error) {
	scheme := addr.Base[:strings.Index(addr.Base, "://")]
	if meta, ok := r.byName(scheme); ok {
		return meta, nil
	}
	if name, ok := r.registry.Match(addr.Base); ok {
		if meta, found := r.plugins[name]; found {
			return meta, nil
		}
	}
	return nil, r.resolutionError(addr, fmt.Sprintf("no plugin for protocol %q", scheme))
}

// byName finds a plugin by exact name, then by name with the reserved
// underscore suffix.
func (r *Resolver) byName(name string) (*plugin.Metadata, bool) {
	if meta, ok := r.plugins[name]; ok {
		return meta, true
	}
	if meta, ok := r.plugins[name+"_"]; ok {
		return meta, true
	}
	return nil, false
}

// resolveURL determines the URL and headers for a resolved address.
// Protocol addresses use the base verbatim, with the compression suffix
// re-attached so remote *.gz names stay intact; profile addresses
// dispatch to the external profile store; file, stdio, and plugin
// addresses produce neither.
func (r *Resolver) resolveURL(addr *Address, meta *plugin.Metadata) (string, map[string]string, error) {
	switch addr.Kind {
	case KindProtocol:
		url := addr.Base
		if addr.Compression != "" {
			url += "." + addr.Compression
		}
		return url, nil, nil

	case KindProfile:
		parts := strings.SplitN(strings.TrimPrefix(addr.Base, "@"), "/", 2)
		namespace, component := parts[0], parts[1]

		// A protocol-category plugin that owns the namespace resolves the
		// reference internally; hand it the full address.
		if meta.Category == "protocol" && meta.Name != fetchPlugin {
			return addr.String(), nil, nil
		}

		if r.profiles == nil {
			return "", nil, r.resolutionError(addr, "no profile store configured")
		}
		url, headers, err := r.profiles.Resolve(namespace, component, addr.Parameters)
		if err != nil {
			return "", nil, r.resolutionError(addr, err.Error())
		}
		return url, headers, nil

	default:
		// Shell-style plugins resolved by pattern still receive the full
		// address so they can parse their own command string.
		if meta.ManagesParameters && meta.Category == "protocol" {
			return addr.String(), nil, nil
		}
		return "", nil, nil
	}
}

func (r *Resolver) resolutionError(addr *Address, reason string) *ResolutionError {
	known := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		known = append(known, name)
	}
	sort.Strings(known)
	return &ResolutionError{Address: addr.Raw, Reason: reason, Known: known}
}

func (r *Resolver) sorted() []*plugin.Metadata {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*plugin.Metadata, len(names))
	for i, name := range names {
		out[i] = r.plugins[name]
	}
	return out
}

func filepathToSlash(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

// CoerceConfig performs purely syntactic type coercion on parameters:
// "true"/"false" become booleans, numeric literals become int64 or float64
// (float when a decimal point or exponent marker is present), everything
// else stays a string. There is no schema awareness; plugins validate
// their own values.
func CoerceConfig(params map[string]string) map[string]any {
	config := make(map[string]any, len(params))
	for key, value := range params {
		config[key] = coerceValue(value)
	}
	return config
}

func coerceValue(value string) any {
	low := strings.ToLower(value)
	switch low {
	case "true", "false":
		return low == "true"
	case "nan", "inf", "+inf", "-inf":
		// Special float tokens stay strings.
		return value
	}
	if strings.ContainsAny(value, ".eE") {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return value
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	return value
}

// FormatConfigValue renders a coerced config value back to a command-line
// argument.
func FormatConfigValue(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Plan resolves an address into the ordered stage list the executor
// consumes. Most addresses become one stage. A protocol URL whose path
// also matches a format plugin becomes two (fetch raw, then parse), and a
// compressed source gains a decompression stage in between. A stdio read
// with no format override is a pure passthrough: no stages at all.
func (r *Resolver) Plan(addr *Address, mode Mode) ([]exec.Stage, error) {
	if addr.Kind == KindStdio && addr.FormatOverride == "" && mode == ModeRead {
		return nil, nil
	}

	var stages []exec.Stage
	if mode == ModeRead && addr.Kind == KindProtocol {
		twoStage, err := r.planProtocolRead(addr)
		if err != nil {
			return nil, err
		}
		stages = twoStage
	}

	if stages == nil {
		resolved, err := r.Resolve(addr, mode)
		if err != nil {
			return nil, err
		}
		stages = []exec.Stage{r.stage(resolved.PluginName, resolved.PluginPath, mode, resolved.Config, resolved.URL, resolved.Headers)}
	}

	if mode == ModeRead && addr.Compression != "" {
		decomp, ok := r.byName(addr.Compression)
		if !ok {
			return nil, r.resolutionError(addr, fmt.Sprintf("no decompression plugin for %q", addr.Compression))
		}
		decompStage := r.stage(decomp.Name, decomp.Path, ModeRaw, nil, "", nil)
		if len(stages) >= 2 {
			// fetch (raw) → decompress (raw) → parse (read)
			stages = append(stages[:1], append([]exec.Stage{decompStage}, stages[1:]...)...)
		} else {
			stages = append([]exec.Stage{decompStage}, stages...)
		}
	}

	assignRoles(stages, mode)
	return stages, nil
}

// planProtocolRead builds the two-stage fetch-then-parse plan when the
// URL carries a detectable format, or nil when a single stage suffices.
func (r *Resolver) planProtocolRead(addr *Address) ([]exec.Stage, error) {
	var protoName, formatName string

	if addr.FormatOverride != "" {
		scheme := addr.Base[:strings.Index(addr.Base, "://")]
		proto, ok := r.byName(scheme)
		if !ok && (scheme == "http" || scheme == "https") {
			proto, ok = r.byName(fetchPlugin)
		}
		if !ok {
			return nil, r.resolutionError(addr, fmt.Sprintf("no plugin for protocol %q", scheme))
		}
		format, ok := r.byName(addr.FormatOverride)
		if !ok {
			return nil, r.resolutionError(addr, fmt.Sprintf("no plugin for format %q", addr.FormatOverride))
		}
		protoName, formatName = proto.Name, format.Name
	} else {
		plan := r.registry.PlanForRead(addr.Base, r.plugins)
		if len(plan) != 2 {
			return nil, nil
		}
		protoName, formatName = plan[0], plan[1]
	}

	proto := r.plugins[protoName]
	format := r.plugins[formatName]

	url := addr.Base
	if addr.Compression != "" {
		url += "." + addr.Compression
	}

	return []exec.Stage{
		r.stage(proto.Name, proto.Path, ModeRaw, nil, url, nil),
		r.stage(format.Name, format.Path, ModeRead, CoerceConfig(addr.Parameters), "", nil),
	}, nil
}

// stage builds one executor stage with the full plugin command line.
func (r *Resolver) stage(name, path string, mode Mode, config map[string]any, url string, headers map[string]string) exec.Stage {
	argv := append([]string{}, r.Runner...)
	argv = append(argv, path, "--mode", string(mode))

	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "--"+k, FormatConfigValue(config[k]))
	}

	if len(headers) > 0 {
		if data, err := json.Marshal(headers); err == nil {
			argv = append(argv, "--headers", string(data))
		}
	}
	if url != "" {
		argv = append(argv, url)
	}

	return exec.Stage{Name: name, Argv: argv}
}

// assignRoles labels stages positionally: first source, last target,
// middles filter. A single read stage is the pipeline's source; a single
// write stage its target.
func assignRoles(stages []exec.Stage, mode Mode) {
	for i := range stages {
		switch {
		case len(stages) == 1 && mode == ModeWrite:
			stages[i].Role = exec.RoleTarget
		case i == 0:
			stages[i].Role = exec.RoleSource
		case i == len(stages)-1 && mode == ModeWrite:
			stages[i].Role = exec.RoleTarget
		default:
			stages[i].Role = exec.RoleFilter
		}
	}
}
