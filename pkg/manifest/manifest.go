// Package manifest provides loading and validation of gcodeml session
// manifests.
//
// A session manifest is a YAML or JSON file describing one batch of codeml
// jobs: the session name and work root, defaults shared by every job, an
// explicit job list, and optionally a directory of alignments from which
// jobs are discovered.
//
// Manifests are validated against a JSON Schema before use. The schema
// enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	session:
//	  name: test-session
//	  root: ./sessions
//	defaults:
//	  walltime: "2 hours"
//	jobs:
//	  - name: FAM_1.1
//	    arguments: [FAM_1.1.H0.ctl, FAM_1.1.H1.ctl]
//	    inputs: [FAM_1.1.H0.ctl, FAM_1.1.H1.ctl, FAM_1.1.nwk, FAM_1.1.phy]
//	    outputs: [FAM_1.1.H0.mlc, FAM_1.1.H1.mlc]
//	discover:
//	  root: ./data
//	  pattern: "**/*.phy"
package manifest

// Manifest represents a validated session manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	Session  SessionSpec     `json:"session" yaml:"session"`
	Defaults JobDefaults     `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Jobs     []JobSpec       `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Discover *DiscoverConfig `json:"discover,omitempty" yaml:"discover,omitempty"`
}

// SessionSpec names the session and where its work directory lives.
type SessionSpec struct {
	Name string `json:"name" yaml:"name"`

	// Root is the parent of the session work directory. Empty means the
	// configured session root.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// DebugLevel is passed to the grid tools as -d. Nil means the
	// configured level.
	DebugLevel *int `json:"debug_level,omitempty" yaml:"debug_level,omitempty"`
}

// JobDefaults apply to every job that does not set the field itself.
type JobDefaults struct {
	Walltime           string `json:"walltime,omitempty" yaml:"walltime,omitempty"`
	Cluster            string `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	Rerun              *int   `json:"rerun,omitempty" yaml:"rerun,omitempty"`
	RuntimeEnvironment string `json:"runtime_environment,omitempty" yaml:"runtime_environment,omitempty"`
	Executable         string `json:"executable,omitempty" yaml:"executable,omitempty"`
}

// JobSpec describes one codeml job.
//
// Inputs are local paths, relative to the manifest directory unless
// absolute. Relative inputs are uploaded under the name as written, so
// jobs usually list plain file names. Arguments and outputs are remote
// names.
type JobSpec struct {
	Name      string   `json:"name" yaml:"name"`
	Arguments []string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Inputs    []string `json:"inputs" yaml:"inputs"`
	Outputs   []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	Walltime           string `json:"walltime,omitempty" yaml:"walltime,omitempty"`
	Cluster            string `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	Rerun              *int   `json:"rerun,omitempty" yaml:"rerun,omitempty"`
	RuntimeEnvironment string `json:"runtime_environment,omitempty" yaml:"runtime_environment,omitempty"`
	Executable         string `json:"executable,omitempty" yaml:"executable,omitempty"`

	// Dir is the absolute directory relative inputs live in and the
	// submission tool runs from. Set by Resolve.
	Dir string `json:"-" yaml:"-"`
}

// DiscoverConfig turns every alignment matching Pattern under Root into a
// job following the H0/H1 naming convention.
type DiscoverConfig struct {
	Root     string   `json:"root" yaml:"root"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// Default values applied by ApplyDefaults.
const (
	DefaultDiscoverPattern = "**/*.phy"
)

// ApplyDefaults fills optional fields that have a fixed default.
func (m *Manifest) ApplyDefaults() {
	if m.Discover != nil && m.Discover.Pattern == "" {
		m.Discover.Pattern = DefaultDiscoverPattern
	}
}

// merge returns j with every unset option taken from d.
func (d JobDefaults) merge(j JobSpec) JobSpec {
	if j.Walltime == "" {
		j.Walltime = d.Walltime
	}
	if j.Cluster == "" {
		j.Cluster = d.Cluster
	}
	if j.Rerun == nil && d.Rerun != nil {
		n := *d.Rerun
		j.Rerun = &n
	}
	if j.RuntimeEnvironment == "" {
		j.RuntimeEnvironment = d.RuntimeEnvironment
	}
	if j.Executable == "" {
		j.Executable = d.Executable
	}
	return j
}
