package alignment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRead(t *testing.T) {
	dir := t.TempDir()

	t.Run("header on first line", func(t *testing.T) {
		p := writeFile(t, dir, "a.phy", "12   345\nseq1  ACGT\n")
		info, err := Read(p)
		require.NoError(t, err)
		assert.Equal(t, Info{SequenceCount: 12, AlignmentLength: 345, Path: p}, info)
	})

	t.Run("header after blank and text lines", func(t *testing.T) {
		p := writeFile(t, dir, "b.phy", "\nno numbers here\n  7 90 \nhuman ACGT\n")
		info, err := Read(p)
		require.NoError(t, err)
		assert.Equal(t, 7, info.SequenceCount)
		assert.Equal(t, 90, info.AlignmentLength)
	})

	t.Run("no matching line", func(t *testing.T) {
		p := writeFile(t, dir, "c.phy", "human ACGT\nmouse ACGA\n")
		_, err := Read(p)
		require.Error(t, err)
		assert.True(t, apperrors.IsMalformedInput(err))
	})

	t.Run("empty file", func(t *testing.T) {
		p := writeFile(t, dir, "d.phy", "")
		_, err := Read(p)
		assert.True(t, apperrors.IsMalformedInput(err))
	})

	t.Run("line longer than the scan limit", func(t *testing.T) {
		p := writeFile(t, dir, "e.phy", "human "+strings.Repeat("A", maxLineSize+1)+"\n  7 90\n")
		_, err := Read(p)
		require.Error(t, err)
		assert.True(t, apperrors.IsMalformedInput(err))
		assert.Contains(t, err.Error(), "16 MiB")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Read(filepath.Join(dir, "missing.phy"))
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestIsAlignment(t *testing.T) {
	assert.True(t, IsAlignment("FAM_1.1.phy"))
	assert.False(t, IsAlignment("FAM_1.1.H0.ctl"))
	assert.False(t, IsAlignment("FAM_1.1.phylip"))
}
