package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/pkg/xrsl"
)

// validManifestYAML returns a minimal valid manifest in YAML format.
func validManifestYAML() string {
	return `version: "1.0"
session:
  name: test-session
jobs:
  - name: FAM_1.1
    arguments: [FAM_1.1.H0.ctl, FAM_1.1.H1.ctl]
    inputs: [FAM_1.1.H0.ctl, FAM_1.1.H1.ctl, FAM_1.1.nwk, FAM_1.1.phy]
    outputs: [FAM_1.1.H0.mlc, FAM_1.1.H1.mlc]
`
}

// validManifestJSON returns a minimal valid manifest in JSON format.
func validManifestJSON() string {
	return `{
  "version": "1.0",
  "session": {"name": "test-session"},
  "jobs": [
    {"name": "FAM_1.1", "inputs": ["FAM_1.1.phy"]}
  ]
}`
}

// fullManifestYAML returns a manifest using every optional field.
func fullManifestYAML() string {
	return `$schema: https://schemas.3leaps.dev/gcodeml/v1.0.0/session-manifest.schema.json
version: "1.0"
session:
  name: selectome-run
  root: /scratch/sessions
  debug_level: 1
defaults:
  walltime: "2 hours"
  cluster: ce.lhep.unibe.ch
  rerun: 2
  runtime_environment: APPS/BIO/CODEML-4.4
  executable: codeml.sh
jobs:
  - name: FAM_1.1
    inputs: [FAM_1.1.phy]
    walltime: "30 minutes"
discover:
  root: ./data
  excludes:
    - "**/skip/**"
`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		filename    string
		wantErr     bool
		errContains string
		validate    func(t *testing.T, m *Manifest)
	}{
		{
			name:     "valid YAML manifest",
			content:  validManifestYAML(),
			filename: "manifest.yaml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "1.0", m.Version)
				assert.Equal(t, "test-session", m.Session.Name)
				require.Len(t, m.Jobs, 1)
				assert.Equal(t, "FAM_1.1", m.Jobs[0].Name)
				assert.Equal(t, []string{"FAM_1.1.H0.ctl", "FAM_1.1.H1.ctl"}, m.Jobs[0].Arguments)
				assert.Nil(t, m.Discover)
				assert.Nil(t, m.Session.DebugLevel)
			},
		},
		{
			name:     "valid JSON manifest",
			content:  validManifestJSON(),
			filename: "manifest.json",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "test-session", m.Session.Name)
				assert.Equal(t, []string{"FAM_1.1.phy"}, m.Jobs[0].Inputs)
			},
		},
		{
			name:     "full manifest with all options",
			content:  fullManifestYAML(),
			filename: "full.yml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "https://schemas.3leaps.dev/gcodeml/v1.0.0/session-manifest.schema.json", m.Schema)
				assert.Equal(t, "/scratch/sessions", m.Session.Root)
				require.NotNil(t, m.Session.DebugLevel)
				assert.Equal(t, 1, *m.Session.DebugLevel)
				assert.Equal(t, "2 hours", m.Defaults.Walltime)
				require.NotNil(t, m.Defaults.Rerun)
				assert.Equal(t, 2, *m.Defaults.Rerun)
				assert.Equal(t, "APPS/BIO/CODEML-4.4", m.Defaults.RuntimeEnvironment)
				require.NotNil(t, m.Discover)
				assert.Equal(t, DefaultDiscoverPattern, m.Discover.Pattern)
				assert.Equal(t, []string{"**/skip/**"}, m.Discover.Excludes)
			},
		},
		{
			name: "discover only",
			content: `version: "1.0"
session: {name: s}
discover: {root: data, pattern: "*.phy"}
`,
			filename: "d.yaml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Empty(t, m.Jobs)
				assert.Equal(t, "*.phy", m.Discover.Pattern)
			},
		},
		{
			name:        "empty file",
			content:     "   \n",
			filename:    "empty.yaml",
			wantErr:     true,
			errContains: "empty",
		},
		{
			name:        "invalid YAML",
			content:     "version: [unclosed",
			filename:    "bad.yaml",
			wantErr:     true,
			errContains: "invalid YAML",
		},
		{
			name:        "invalid JSON",
			content:     `{"version": `,
			filename:    "bad.json",
			wantErr:     true,
			errContains: "invalid JSON",
		},
		{
			name:     "missing session",
			content:  "version: \"1.0\"\njobs: [{name: a, inputs: [a.phy]}]\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "neither jobs nor discover",
			content:  "version: \"1.0\"\nsession: {name: s}\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "unsupported version",
			content:  "version: \"2.0\"\nsession: {name: s}\njobs: [{name: a, inputs: [a.phy]}]\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "unknown field rejected",
			content:  "version: \"1.0\"\nsession: {name: s}\njobs: [{name: a, inputs: [a.phy], memory: 4}]\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:        "bad walltime",
			content:     "version: \"1.0\"\nsession: {name: s}\ndefaults: {walltime: \"2h\"}\njobs: [{name: a, inputs: [a.phy]}]\n",
			filename:    "m.yaml",
			wantErr:     true,
			errContains: "walltime",
		},
		{
			name:     "negative rerun",
			content:  "version: \"1.0\"\nsession: {name: s}\njobs: [{name: a, inputs: [a.phy], rerun: -1}]\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "session name with slash",
			content:  "version: \"1.0\"\nsession: {name: a/b}\njobs: [{name: a, inputs: [a.phy]}]\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "debug level out of range",
			content:  "version: \"1.0\"\nsession: {name: s, debug_level: 5}\njobs: [{name: a, inputs: [a.phy]}]\n",
			filename: "m.yaml",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.filename)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			m, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, m)
			}
		})
	}
}

func TestLoad_ErrorClassification(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := Load("/nonexistent/path/manifest.yaml")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("unparseable is malformed", func(t *testing.T) {
		_, err := LoadFromBytes([]byte("version: [unclosed"), "m.yaml")
		assert.True(t, apperrors.IsMalformedInput(err))
	})

	t.Run("schema violation is validation", func(t *testing.T) {
		_, err := LoadFromBytes([]byte("version: \"1.0\"\n"), "m.yaml")
		assert.True(t, apperrors.IsValidation(err))
		var verrs ValidationErrors
		assert.ErrorAs(t, err, &verrs)
	})

	t.Run("permission denied", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("skipping permission test when running as root")
		}
		path := filepath.Join(t.TempDir(), "noperm.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validManifestYAML()), 0o000))
		t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission")
	})
}

func TestLoadFromBytes(t *testing.T) {
	for _, name := range []string{"test.yaml", "test.txt", ""} {
		t.Run("yaml as "+name, func(t *testing.T) {
			m, err := LoadFromBytes([]byte(validManifestYAML()), name)
			require.NoError(t, err)
			assert.Equal(t, "test-session", m.Session.Name)
		})
	}

	t.Run("JSON without extension", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestJSON()), "")
		require.NoError(t, err)
		assert.Equal(t, "test-session", m.Session.Name)
	})
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(validManifestYAML()), "test.yaml")
	require.NoError(t, err)
	assert.Equal(t, "test-session", m.Session.Name)
}

func TestValidate(t *testing.T) {
	t.Run("valid manifest passes", func(t *testing.T) {
		m := &Manifest{
			Version: "1.0",
			Session: SessionSpec{Name: "s"},
			Jobs:    []JobSpec{{Name: "a", Inputs: []string{"a.phy"}}},
		}
		assert.NoError(t, Validate(m))
	})

	t.Run("invalid manifest fails", func(t *testing.T) {
		m := &Manifest{
			Version: "1.0",
			Session: SessionSpec{Name: "s"},
			Jobs:    []JobSpec{{Name: "a", Inputs: []string{"a.phy"}, Walltime: "forever"}},
		}
		err := Validate(m)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("works from arbitrary directory", func(t *testing.T) {
		t.Chdir(t.TempDir())
		m := &Manifest{
			Version:  "1.0",
			Session:  SessionSpec{Name: "s"},
			Discover: &DiscoverConfig{Root: "data", Pattern: "**/*.phy"},
		}
		assert.NoError(t, Validate(m), "schema is embedded")
	})
}

func TestValidationErrors(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{{Path: "/version", Message: "required"}}
		assert.Equal(t, "/version: required", errs.Error())
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Path: "/version", Message: "required"},
			{Path: "/session/name", Message: "must not be empty"},
		}
		s := errs.Error()
		assert.Contains(t, s, "2 errors")
		assert.Contains(t, s, "/version")
		assert.Contains(t, s, "/session/name")
	})

	t.Run("empty path", func(t *testing.T) {
		e := ValidationError{Message: "root error"}
		assert.Equal(t, "root error", e.Error())
	})
}

// writeFamily creates the four convention files for base under dir.
func writeFamily(t *testing.T, dir, base string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{
		base + ".H0.ctl",
		base + ".H1.ctl",
		base + ".nwk",
		base + ".phy",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644))
	}
}

func intPtr(n int) *int { return &n }

func TestResolve(t *testing.T) {
	t.Run("explicit jobs get defaults and the manifest dir", func(t *testing.T) {
		base := t.TempDir()
		m := &Manifest{
			Defaults: JobDefaults{Walltime: "2 hours", Cluster: "ce.example.org", Rerun: intPtr(3)},
			Jobs: []JobSpec{
				{Name: "a", Inputs: []string{"a.phy", "/abs/a.nwk"}},
				{Name: "b", Inputs: []string{"b.phy"}, Walltime: "10 minutes", Rerun: intPtr(0)},
			},
		}
		jobs, err := m.Resolve(base)
		require.NoError(t, err)
		require.Len(t, jobs, 2)

		absBase, err := filepath.Abs(base)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.phy", "/abs/a.nwk"}, jobs[0].Inputs)
		assert.Equal(t, absBase, jobs[0].Dir)
		assert.Equal(t, absBase, jobs[1].Dir)
		assert.Equal(t, "2 hours", jobs[0].Walltime)
		assert.Equal(t, "ce.example.org", jobs[0].Cluster)
		assert.Equal(t, 3, *jobs[0].Rerun)

		assert.Equal(t, "10 minutes", jobs[1].Walltime)
		assert.Equal(t, 0, *jobs[1].Rerun)
	})

	t.Run("defaults are not shared between jobs", func(t *testing.T) {
		m := &Manifest{
			Defaults: JobDefaults{Rerun: intPtr(1)},
			Jobs:     []JobSpec{{Name: "a", Inputs: []string{"a.phy"}}},
		}
		jobs, err := m.Resolve(t.TempDir())
		require.NoError(t, err)
		*jobs[0].Rerun = 9
		assert.Equal(t, 1, *m.Defaults.Rerun)
	})

	t.Run("discovery follows the H0/H1 convention", func(t *testing.T) {
		base := t.TempDir()
		data := filepath.Join(base, "data")
		writeFamily(t, data, "FAM_1.2")
		writeFamily(t, filepath.Join(data, "sub"), "FAM_1.1")
		writeFamily(t, filepath.Join(data, "skip"), "FAM_9.9")

		m := &Manifest{Discover: &DiscoverConfig{
			Root:     "data",
			Pattern:  DefaultDiscoverPattern,
			Excludes: []string{"skip/**"},
		}}
		jobs, err := m.Resolve(base)
		require.NoError(t, err)
		require.Len(t, jobs, 2)

		assert.Equal(t, "FAM_1.2", jobs[0].Name)
		sub := jobs[1]
		assert.Equal(t, "FAM_1.1", sub.Name)
		assert.Equal(t, []string{"FAM_1.1.H0.ctl", "FAM_1.1.H1.ctl"}, sub.Arguments)
		assert.Equal(t, []string{"FAM_1.1.H0.mlc", "FAM_1.1.H1.mlc"}, sub.Outputs)
		assert.Equal(t, filepath.Join(data, "sub"), sub.Dir)
		assert.Equal(t, []string{
			"FAM_1.1.H0.ctl",
			"FAM_1.1.H1.ctl",
			"FAM_1.1.nwk",
			"FAM_1.1.phy",
		}, sub.Inputs)
		assert.Equal(t, data, jobs[0].Dir)
	})

	t.Run("discovered inputs render as the names the arguments use", func(t *testing.T) {
		base := t.TempDir()
		writeFamily(t, filepath.Join(base, "data", "sub"), "FAM_1.1")

		m := &Manifest{Discover: &DiscoverConfig{Root: "data"}}
		jobs, err := m.Resolve(base)
		require.NoError(t, err)
		require.Len(t, jobs, 1)

		desc, err := xrsl.NewBuilder(jobs[0].Name).
			SetArguments(jobs[0].Arguments...).
			SetInputFiles(jobs[0].Inputs...).
			SetOutputFiles(jobs[0].Outputs...).
			SetInputDir(jobs[0].Dir).
			Build()
		require.NoError(t, err)

		rendered := desc.Inline()
		assert.Contains(t, rendered, `(arguments="FAM_1.1.H0.ctl" "FAM_1.1.H1.ctl")`)
		assert.Contains(t, rendered,
			`(inputfiles=("FAM_1.1.H0.ctl" "")("FAM_1.1.H1.ctl" "")("FAM_1.1.nwk" "")("FAM_1.1.phy" ""))`)
		assert.NotContains(t, rendered, base)
		assert.FileExists(t, desc.InputPath("FAM_1.1.phy"))
	})

	t.Run("discovery requires companion files", func(t *testing.T) {
		base := t.TempDir()
		writeFamily(t, base, "FAM_1.1")
		require.NoError(t, os.Remove(filepath.Join(base, "FAM_1.1.nwk")))

		m := &Manifest{Discover: &DiscoverConfig{Root: base}}
		_, err := m.Resolve(base)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
		assert.Contains(t, err.Error(), "FAM_1.1.nwk")
	})

	t.Run("missing discover root", func(t *testing.T) {
		m := &Manifest{Discover: &DiscoverConfig{Root: "nope"}}
		_, err := m.Resolve(t.TempDir())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("duplicate names across explicit and discovered", func(t *testing.T) {
		base := t.TempDir()
		writeFamily(t, base, "FAM_1.1")
		m := &Manifest{
			Jobs:     []JobSpec{{Name: "FAM_1.1", Inputs: []string{"FAM_1.1.phy"}}},
			Discover: &DiscoverConfig{Root: "."},
		}
		_, err := m.Resolve(base)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("nothing resolved", func(t *testing.T) {
		m := &Manifest{Discover: &DiscoverConfig{Root: "."}}
		_, err := m.Resolve(t.TempDir())
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("invalid exclude pattern", func(t *testing.T) {
		m := &Manifest{Discover: &DiscoverConfig{Root: ".", Excludes: []string{"[unclosed"}}}
		_, err := m.Resolve(t.TempDir())
		assert.True(t, apperrors.IsValidation(err))
	})
}
