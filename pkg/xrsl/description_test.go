package xrsl

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

func famBuilder() *Builder {
	return NewBuilder("FAM_1.1").
		SetArguments("FAM_1.1.H0.ctl", "FAM_1.1.H1.ctl").
		SetInputFiles("FAM_1.1.H0.ctl", "FAM_1.1.H1.ctl", "FAM_1.1.nwk", "FAM_1.1.phy").
		SetOutputFiles("FAM_1.1.H0.mlc", "FAM_1.1.H1.mlc")
}

func TestRender_Defaults(t *testing.T) {
	d, err := famBuilder().Build()
	require.NoError(t, err)

	want := `&(executable="codeml_worker.pl")
(arguments="FAM_1.1.H0.ctl" "FAM_1.1.H1.ctl")
(inputfiles=("FAM_1.1.H0.ctl" "")("FAM_1.1.H1.ctl" "")("FAM_1.1.nwk" "")("FAM_1.1.phy" ""))
(outputfiles=("FAM_1.1.H0.mlc" "")("FAM_1.1.H1.mlc" ""))
(stdout="codeml.stdout.txt")
(stderr="codeml.stderr.txt")
(gmlog=".arc")
(rerun="2")
(runtimeenvironment="APPS/BIO/CODEML-4.4.3")
(jobname="FAM_1.1")`
	assert.Equal(t, want, d.Render())
	assert.Equal(t, d.Render(), d.Render())
	assert.Equal(t, d.Render(), d.String())
}

func TestRender_OptionalAttributes(t *testing.T) {
	b := famBuilder().SetCluster("ce.lhep.unibe.ch")
	require.NoError(t, b.SetWalltime("2 minutes"))
	d, err := b.Build()
	require.NoError(t, err)

	out := d.Render()
	assert.True(t, strings.HasSuffix(out, `(jobname="FAM_1.1")(walltime="2 minutes")`+"\n"+`(cluster="ce.lhep.unibe.ch")`+"\n"))

	walltimeAt := strings.Index(out, "(walltime=")
	clusterAt := strings.Index(out, "(cluster=")
	assert.Greater(t, clusterAt, walltimeAt)

	assert.NotContains(t, d.Inline(), "\n")
	assert.Equal(t, strings.ReplaceAll(out, "\n", ""), d.Inline())
}

func TestRender_KeyOrder(t *testing.T) {
	b := famBuilder()
	require.NoError(t, b.SetWalltime("1 day"))
	d, err := b.SetCluster("grid.example.org").Build()
	require.NoError(t, err)

	keys := []string{"executable", "arguments", "inputfiles", "outputfiles", "stdout", "stderr",
		"gmlog", "rerun", "runtimeenvironment", "jobname", "walltime", "cluster"}
	out := d.Render()
	last := -1
	for _, k := range keys {
		idx := strings.Index(out, "("+k+"=")
		require.GreaterOrEqual(t, idx, 0, "missing key %s", k)
		assert.Greater(t, idx, last, "key %s out of order", k)
		last = idx
	}
}

func TestSetWalltime(t *testing.T) {
	valid := []string{"1 minute", "2 minutes", "1 hour", "12 hours", "1 day", "3 days", "1 week", "2 weeks", "10  hours"}
	for _, v := range valid {
		t.Run("valid "+v, func(t *testing.T) {
			b := famBuilder()
			require.NoError(t, b.SetWalltime(v))
			d, err := b.Build()
			require.NoError(t, err)
			assert.Contains(t, d.Render(), `(walltime="`+v+`")`)
		})
	}

	invalid := []string{"soon", "2", "minutes", "2minutes", "2 fortnights", "-1 hour", "1.5 hours", "2 hours later", " 2 hours"}
	for _, v := range invalid {
		t.Run("invalid "+v, func(t *testing.T) {
			err := famBuilder().SetWalltime(v)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestSetRerun(t *testing.T) {
	b := famBuilder()
	require.NoError(t, b.SetRerun(0))
	err := b.SetRerun(-1)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	d, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 0, d.Rerun())
	assert.Contains(t, d.Render(), `(rerun="0")`)
}

func TestBuild_Immutable(t *testing.T) {
	args := []string{"a.ctl"}
	b := NewBuilder("job").SetArguments(args...)
	d, err := b.Build()
	require.NoError(t, err)

	args[0] = "changed"
	got := d.Arguments()
	got[0] = "mutated"
	b.SetArguments("other.ctl")

	assert.Equal(t, []string{"a.ctl"}, d.Arguments())
}

func TestBuild_RequiresName(t *testing.T) {
	_, err := NewBuilder(" ").Build()
	assert.True(t, apperrors.IsValidation(err))
}

func TestInputsWithSuffix(t *testing.T) {
	d, err := famBuilder().Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"FAM_1.1.phy"}, d.InputsWithSuffix(".phy"))
	assert.Len(t, d.InputsWithSuffix(".ctl"), 2)
}

func TestInputDir(t *testing.T) {
	plain, err := famBuilder().Build()
	require.NoError(t, err)

	dir := filepath.Join("data", "fam1")
	d, err := famBuilder().SetInputDir(dir).Build()
	require.NoError(t, err)

	assert.Equal(t, dir, d.InputDir())
	assert.Equal(t, filepath.Join(dir, "FAM_1.1.phy"), d.InputPath("FAM_1.1.phy"))
	abs := filepath.Join(string(filepath.Separator), "srv", "a.nwk")
	assert.Equal(t, abs, d.InputPath(abs))
	assert.Equal(t, "FAM_1.1.phy", plain.InputPath("FAM_1.1.phy"))
	assert.Equal(t, plain.Render(), d.Render())
}
