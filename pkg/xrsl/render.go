package xrsl

import (
	"fmt"
	"strings"
)

const (
	argSep  = `" "`
	fileSep = `" "")("`
)

// Render returns the xRSL text for the description.
//
// Attributes appear in a fixed order. walltime and cluster are appended
// after jobname only when set, each terminated by a newline.
func (d Description) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "&(executable=\"%s\")\n", d.executable)
	fmt.Fprintf(&b, "(arguments=\"%s\")\n", strings.Join(d.arguments, argSep))
	fmt.Fprintf(&b, "(inputfiles=(\"%s\" \"\"))\n", strings.Join(d.inputFiles, fileSep))
	fmt.Fprintf(&b, "(outputfiles=(\"%s\" \"\"))\n", strings.Join(d.outputFiles, fileSep))
	fmt.Fprintf(&b, "(stdout=\"%s\")\n", d.stdout)
	fmt.Fprintf(&b, "(stderr=\"%s\")\n", d.stderr)
	fmt.Fprintf(&b, "(gmlog=\"%s\")\n", d.gmlog)
	fmt.Fprintf(&b, "(rerun=\"%d\")\n", d.rerun)
	fmt.Fprintf(&b, "(runtimeenvironment=\"%s\")\n", d.runtimeEnvironment)
	fmt.Fprintf(&b, "(jobname=\"%s\")", d.name)

	if d.walltime != "" {
		fmt.Fprintf(&b, "(walltime=\"%s\")\n", d.walltime)
	}
	if d.cluster != "" {
		fmt.Fprintf(&b, "(cluster=\"%s\")\n", d.cluster)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (d Description) String() string {
	return d.Render()
}

// Inline returns the rendered description with newlines stripped, the form
// passed to ngsub -e.
func (d Description) Inline() string {
	return strings.ReplaceAll(d.Render(), "\n", "")
}
