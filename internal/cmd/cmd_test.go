package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/pkg/arc"
)

// fakeGrid answers ngsub, ngstat and ngget the way an ARC cluster would,
// finishing every job on the first status poll.
type fakeGrid struct {
	mu        sync.Mutex
	jobs      []fakeGridJob
	submitErr map[string]bool
	calls     []string
	// submitDirs records the working directory of each ngsub call.
	submitDirs []string
}

type fakeGridJob struct {
	id   string
	name string
}

var (
	jobnameRE   = regexp.MustCompile(`\(jobname="([^"]+)"\)`)
	inputsRE    = regexp.MustCompile(`\(inputfiles=((?:\("[^"]*" ""\))+)\)`)
	inputNameRE = regexp.MustCompile(`\("([^"]*)" ""\)`)
)

// stageInputs checks that every inputfiles entry is a relative name that
// exists under dir, the way ngsub uploads them.
func stageInputs(dir, desc string) error {
	m := inputsRE.FindStringSubmatch(desc)
	if m == nil {
		return fmt.Errorf("no inputfiles")
	}
	for _, in := range inputNameRE.FindAllStringSubmatch(m[1], -1) {
		if filepath.IsAbs(in[1]) {
			return fmt.Errorf("absolute input name %s", in[1])
		}
		if _, err := os.Stat(filepath.Join(dir, in[1])); err != nil {
			return err
		}
	}
	return nil
}

func (g *fakeGrid) Run(_ context.Context, dir, name string, args ...string) (arc.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, name)

	switch name {
	case "ngsub":
		desc := args[len(args)-1]
		m := jobnameRE.FindStringSubmatch(desc)
		if m == nil || g.submitErr[m[1]] {
			return arc.Result{Stdout: []byte("ngsub: submission failed\n"), ExitCode: 1}, nil
		}
		g.submitDirs = append(g.submitDirs, dir)
		if err := stageInputs(dir, desc); err != nil {
			return arc.Result{Stdout: []byte("ngsub: cannot upload input: " + err.Error() + "\n"), ExitCode: 1}, nil
		}
		id := fmt.Sprintf("gsiftp://ce.example.org:2811/jobs/%d", 1000+len(g.jobs))
		g.jobs = append(g.jobs, fakeGridJob{id: id, name: m[1]})
		return arc.Result{Stdout: []byte("Job submitted with jobid: " + id + "\n")}, nil

	case "ngstat":
		var b strings.Builder
		for _, j := range g.jobs {
			fmt.Fprintf(&b, "Job %s\n  Job Name: %s\n  Status: FINISHED\n  Exit Code: 0\n", j.id, j.name)
		}
		return arc.Result{Stdout: []byte(b.String())}, nil

	case "ngget":
		out := args[3]
		job := filepath.Base(out)
		files := map[string]string{
			"codeml.stdout.txt": "hostname: node1.example.org\nmodel name : Opteron 2356\n",
			job + ".H0.mlc":     "Time used:  1:05\n",
			job + ".H1.mlc":     "Time used:  2:10\n",
		}
		for fn, body := range files {
			if err := os.WriteFile(filepath.Join(out, fn), []byte(body), 0o644); err != nil {
				return arc.Result{}, err
			}
		}
		return arc.Result{}, nil
	}
	return arc.Result{ExitCode: 127, Stderr: []byte(name + ": not found")}, nil
}

// useFakeGrid routes every grid tool invocation to g.
func useFakeGrid(t *testing.T, g *fakeGrid) {
	t.Helper()
	orig := newRunner
	newRunner = func(*zap.Logger) arc.Runner { return g }
	t.Cleanup(func() { newRunner = orig })
}

// setupWorkspace creates a temp dir with two alignment families under data/
// and a manifest discovering them, and makes it the working directory.
func setupWorkspace(t *testing.T) (dir, manifestPath string) {
	t.Helper()
	dir = t.TempDir()
	t.Chdir(dir)

	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(data, 0o755))
	for _, base := range []string{"FAM_1.1", "FAM_1.2"} {
		files := map[string]string{
			base + ".phy":    "   2   6\nseq1  ATGATG\nseq2  ATGATC\n",
			base + ".nwk":    "(seq1,seq2);\n",
			base + ".H0.ctl": "seqfile = " + base + ".phy\n",
			base + ".H1.ctl": "seqfile = " + base + ".phy\n",
		}
		for name, body := range files {
			require.NoError(t, os.WriteFile(filepath.Join(data, name), []byte(body), 0o644))
		}
	}

	manifestPath = filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`version: "1.0"
session:
  name: cli-session
  root: sessions
defaults:
  walltime: "2 hours"
discover:
  root: data
`), 0o644))

	t.Setenv("GCODEML_PROXY_ENABLED", "false")
	t.Setenv("GCODEML_SESSION_POLL_INTERVAL", "1ms")
	t.Setenv("GCODEML_SESSION_ROOT", filepath.Join(dir, "sessions"))
	t.Setenv("GCODEML_TASKDB_PATH", filepath.Join(dir, "taskdb.sqlite"))
	return dir, manifestPath
}

// resetCommandState restores flag variables and viper between tests.
func resetCommandState(t *testing.T) {
	t.Helper()
	reset := func() {
		runManifestPath, runEvents, runSessionRoot, runMetricsAddr = "", "", "", ""
		runDryRun, runNoMonitor = false, false
		resumeEvents = ""
		statusJSON = false
		taskdbPath, taskdbReportSession = "", ""
		taskdbReportJSON = false
		archiveBucket, archiveRegion, archiveEndpoint, archivePrefix, archiveProfile = "", "", "", "", ""
		archiveForcePathStyle, archiveIncludeTaskDB = false, false
		doctorArchive = false
		cfgFile, logLevel, verbose = "", "", false
		viper.Reset()
	}
	reset()
	t.Cleanup(reset)
}

// executeCommand runs the root command with args and returns what it wrote
// to stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(done)
	}()

	rootCmd.SetArgs(args)
	rootCmd.SetContext(context.Background())
	execErr := rootCmd.Execute()
	rootCmd.SetArgs(nil)

	require.NoError(t, w.Close())
	os.Stdout = old
	<-done
	return buf.String(), execErr
}
