package manifest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

// File naming convention for discovered jobs. An alignment <base>.phy is
// paired with <base>.nwk and the two control files <base>.H0.ctl and
// <base>.H1.ctl; codeml writes <base>.H0.mlc and <base>.H1.mlc.
const (
	AlignmentSuffix = ".phy"
	TreeSuffix      = ".nwk"
	ControlSuffix   = ".ctl"
	ResultSuffix    = ".mlc"
	NullHypothesis  = ".H0"
	AltHypothesis   = ".H1"
)

// Resolve returns the final job list: explicit jobs first, then discovered
// ones, each with defaults merged and Dir set.
//
// Explicit jobs get baseDir, normally the directory holding the manifest
// file, as Dir. Discovered jobs get the directory of their alignment and
// list their inputs by base name. Input names are kept as written so the
// grid sees the same names the arguments refer to.
func (m *Manifest) Resolve(baseDir string) ([]JobSpec, error) {
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}

	var out []JobSpec
	seen := make(map[string]bool)

	add := func(j JobSpec) error {
		if seen[j.Name] {
			return apperrors.Validation("jobs", fmt.Sprintf("duplicate job name %q", j.Name))
		}
		seen[j.Name] = true
		j = m.Defaults.merge(j)
		if j.Dir == "" {
			j.Dir = baseDir
		}
		out = append(out, j)
		return nil
	}

	for _, j := range m.Jobs {
		if err := add(j); err != nil {
			return nil, err
		}
	}

	if m.Discover != nil {
		discovered, err := m.Discover.discover(baseDir)
		if err != nil {
			return nil, err
		}
		for _, j := range discovered {
			if err := add(j); err != nil {
				return nil, err
			}
		}
	}

	if len(out) == 0 {
		return nil, apperrors.Validation("jobs", "manifest resolves to no jobs")
	}
	return out, nil
}

// ConventionJob builds the job for alignment dir/<base>.phy. Inputs are
// base names under Dir.
func ConventionJob(dir, base string) JobSpec {
	ctlH0 := base + NullHypothesis + ControlSuffix
	ctlH1 := base + AltHypothesis + ControlSuffix
	return JobSpec{
		Name:      base,
		Arguments: []string{ctlH0, ctlH1},
		Inputs: []string{
			ctlH0,
			ctlH1,
			base + TreeSuffix,
			base + AlignmentSuffix,
		},
		Dir: dir,
		Outputs: []string{
			base + NullHypothesis + ResultSuffix,
			base + AltHypothesis + ResultSuffix,
		},
	}
}

func (d *DiscoverConfig) discover(baseDir string) ([]JobSpec, error) {
	root := d.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(baseDir, root)
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("discover root", root)
		}
		return nil, fmt.Errorf("stat discover root: %w", err)
	}
	if !info.IsDir() {
		return nil, apperrors.Validation("discover.root", fmt.Sprintf("%s is not a directory", root))
	}

	pattern := d.Pattern
	if pattern == "" {
		pattern = DefaultDiscoverPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, apperrors.Validation("discover.pattern", fmt.Sprintf("invalid pattern %q", pattern))
	}
	for _, ex := range d.Excludes {
		if !doublestar.ValidatePattern(ex) {
			return nil, apperrors.Validation("discover.excludes", fmt.Sprintf("invalid pattern %q", ex))
		}
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	sort.Strings(matches)

	var jobs []JobSpec
	for _, rel := range matches {
		if !strings.HasSuffix(rel, AlignmentSuffix) || d.excluded(rel) {
			continue
		}
		base := strings.TrimSuffix(path.Base(rel), AlignmentSuffix)
		dir := filepath.Join(root, filepath.FromSlash(path.Dir(rel)))
		job := ConventionJob(dir, base)
		if err := requireInputs(job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (d *DiscoverConfig) excluded(rel string) bool {
	for _, ex := range d.Excludes {
		if ok, _ := doublestar.Match(ex, rel); ok {
			return true
		}
	}
	return false
}

func requireInputs(j JobSpec) error {
	for _, p := range j.Inputs {
		if !filepath.IsAbs(p) {
			p = filepath.Join(j.Dir, p)
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return apperrors.NotFound("input for job "+j.Name, p)
			}
			return fmt.Errorf("stat input %s: %w", p, err)
		}
	}
	return nil
}
