// Package xrsl builds job descriptions in the ARC extended Resource
// Specification Language accepted by ngsub.
//
// A Description is assembled through a Builder whose setters validate
// eagerly. Once built, a Description is immutable: accessors hand out copies
// and Render always produces the same text.
package xrsl

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

// Defaults for a codeml worker job.
const (
	DefaultExecutable         = "codeml_worker.pl"
	DefaultStdout             = "codeml.stdout.txt"
	DefaultStderr             = "codeml.stderr.txt"
	DefaultGMLog              = ".arc"
	DefaultRerun              = 2
	DefaultRuntimeEnvironment = "APPS/BIO/CODEML-4.4.3"
)

var walltimeRE = regexp.MustCompile(`^\d+\s+(minute|minutes|hour|hours|day|days|week|weeks)$`)

// Description is a built, read-only job description.
type Description struct {
	name               string
	executable         string
	arguments          []string
	inputFiles         []string
	outputFiles        []string
	stdout             string
	stderr             string
	gmlog              string
	rerun              int
	runtimeEnvironment string
	walltime           string
	cluster            string

	// inputDir is the local directory relative input names resolve
	// against. It is not part of the rendered text.
	inputDir string
}

// Builder collects and validates description fields.
type Builder struct {
	d Description
}

// NewBuilder returns a builder pre-populated with the codeml defaults.
func NewBuilder(name string) *Builder {
	return &Builder{d: Description{
		name:               name,
		executable:         DefaultExecutable,
		stdout:             DefaultStdout,
		stderr:             DefaultStderr,
		gmlog:              DefaultGMLog,
		rerun:              DefaultRerun,
		runtimeEnvironment: DefaultRuntimeEnvironment,
	}}
}

func (b *Builder) SetName(name string) *Builder {
	b.d.name = name
	return b
}

func (b *Builder) SetExecutable(exe string) *Builder {
	b.d.executable = exe
	return b
}

func (b *Builder) SetArguments(args ...string) *Builder {
	b.d.arguments = append([]string(nil), args...)
	return b
}

func (b *Builder) SetInputFiles(files ...string) *Builder {
	b.d.inputFiles = append([]string(nil), files...)
	return b
}

func (b *Builder) SetOutputFiles(files ...string) *Builder {
	b.d.outputFiles = append([]string(nil), files...)
	return b
}

func (b *Builder) SetStdout(path string) *Builder {
	b.d.stdout = path
	return b
}

func (b *Builder) SetStderr(path string) *Builder {
	b.d.stderr = path
	return b
}

// SetLogDir sets the grid manager log directory (gmlog).
func (b *Builder) SetLogDir(dir string) *Builder {
	b.d.gmlog = dir
	return b
}

func (b *Builder) SetRuntimeEnvironment(rte string) *Builder {
	b.d.runtimeEnvironment = rte
	return b
}

// SetCluster pins the job to a cluster. Empty clears the hint.
func (b *Builder) SetCluster(cluster string) *Builder {
	b.d.cluster = strings.TrimSpace(cluster)
	return b
}

// SetInputDir sets the local directory that relative input files are
// read from. The submission tool runs there so the grid sees the names as
// written.
func (b *Builder) SetInputDir(dir string) *Builder {
	b.d.inputDir = dir
	return b
}

// SetRerun sets the fabric-level resubmission count.
func (b *Builder) SetRerun(n int) error {
	if n < 0 {
		return apperrors.Validation("rerun", fmt.Sprintf("must be non-negative, got %d", n))
	}
	b.d.rerun = n
	return nil
}

// SetWalltime sets the wall-clock limit. The value must read
// "<integer> <unit>" with unit one of minute(s), hour(s), day(s), week(s).
// Empty clears the limit.
func (b *Builder) SetWalltime(walltime string) error {
	if walltime == "" {
		b.d.walltime = ""
		return nil
	}
	if !ValidWalltime(walltime) {
		return apperrors.Validation("walltime", fmt.Sprintf("%q does not match <integer> <unit>", walltime))
	}
	b.d.walltime = walltime
	return nil
}

// ValidWalltime reports whether s is an accepted walltime value.
func ValidWalltime(s string) bool {
	return walltimeRE.MatchString(s)
}

// Build returns an immutable copy of the collected fields.
func (b *Builder) Build() (Description, error) {
	if strings.TrimSpace(b.d.name) == "" {
		return Description{}, apperrors.Validation("jobname", "must not be empty")
	}
	if strings.TrimSpace(b.d.executable) == "" {
		return Description{}, apperrors.Validation("executable", "must not be empty")
	}
	d := b.d
	d.arguments = cloneStrings(b.d.arguments)
	d.inputFiles = cloneStrings(b.d.inputFiles)
	d.outputFiles = cloneStrings(b.d.outputFiles)
	return d, nil
}

func (d Description) Name() string               { return d.name }
func (d Description) Executable() string         { return d.executable }
func (d Description) Arguments() []string        { return cloneStrings(d.arguments) }
func (d Description) InputFiles() []string       { return cloneStrings(d.inputFiles) }
func (d Description) OutputFiles() []string      { return cloneStrings(d.outputFiles) }
func (d Description) Stdout() string             { return d.stdout }
func (d Description) Stderr() string             { return d.stderr }
func (d Description) LogDir() string             { return d.gmlog }
func (d Description) Rerun() int                 { return d.rerun }
func (d Description) RuntimeEnvironment() string { return d.runtimeEnvironment }
func (d Description) Walltime() string           { return d.walltime }
func (d Description) Cluster() string            { return d.cluster }
func (d Description) InputDir() string           { return d.inputDir }

// InputPath returns the local path of input file name.
func (d Description) InputPath(name string) string {
	if d.inputDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.inputDir, name)
}

// InputsWithSuffix returns the input files whose name ends with suffix.
func (d Description) InputsWithSuffix(suffix string) []string {
	var out []string
	for _, f := range d.inputFiles {
		if strings.HasSuffix(f, suffix) {
			out = append(out, f)
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
