package transfer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestinationResolveConfine(t *testing.T) {
	root := t.TempDir()
	d := Destination{Root: root, Policy: PolicyConfine}

	tests := []struct {
		name    string
		dir     string
		file    string
		want    string
		wantErr error
	}{
		{name: "root", dir: "", file: "a.bin", want: filepath.Join(root, "a.bin")},
		{name: "dot", dir: ".", file: "a.bin", want: filepath.Join(root, "a.bin")},
		{name: "nested", dir: "x/y", file: "a.bin", want: filepath.Join(root, "x", "y", "a.bin")},
		{name: "inner dotdot", dir: "x/../y", file: "a.bin", want: filepath.Join(root, "y", "a.bin")},
		{name: "dotted name", dir: "", file: "..hidden", want: filepath.Join(root, "..hidden")},
		{name: "escape", dir: "../", file: "a.bin", wantErr: ErrUnsafePath},
		{name: "deep escape", dir: "x/../../..", file: "a.bin", wantErr: ErrUnsafePath},
		{name: "absolute", dir: "/tmp", file: "a.bin", wantErr: ErrUnsafePath},
		{name: "backslash", dir: `x\..\..`, file: "a.bin", wantErr: ErrUnsafePath},
		{name: "drive", dir: "C:foo", file: "a.bin", wantErr: ErrUnsafePath},
		{name: "nul dir", dir: "x\x00", file: "a.bin", wantErr: ErrUnsafePath},
		{name: "empty name", dir: "", file: "", wantErr: ErrUnsafePath},
		{name: "dotdot name", dir: "", file: "..", wantErr: ErrUnsafePath},
		{name: "slash name", dir: "", file: "a/b", wantErr: ErrUnsafePath},
		{name: "backslash name", dir: "", file: `a\b`, wantErr: ErrUnsafePath},
		{name: "long name", dir: "", file: strings.Repeat("n", 256), wantErr: ErrUnsafePath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Resolve(tt.dir, tt.file)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDestinationResolveFlatten(t *testing.T) {
	root := t.TempDir()
	d := Destination{Root: root, Policy: PolicyFlatten}

	got, err := d.Resolve("/var/lib/anything/../..", "a.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a.bin"), got)

	_, err = d.Resolve("", "../a.bin")
	assert.ErrorIs(t, err, ErrUnsafePath, "flatten must still validate the filename")
}

func TestDestinationMkdirAll(t *testing.T) {
	root := t.TempDir()
	d := Destination{Root: root, Policy: PolicyConfine, MkdirAll: true}

	f, got, err := d.Open("incoming/2026", "a.bin")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, filepath.Join(root, "incoming", "2026", "a.bin"), got)

	info, err := os.Stat(filepath.Dir(got))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDestinationOpenTruncates(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a.bin")
	require.NoError(t, os.WriteFile(target, []byte("stale contents"), 0o644))

	f, _, err := Destination{Root: root}.Open("", "a.bin")
	require.NoError(t, err)
	f.Close()

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDestinationOpenMissingDir(t *testing.T) {
	d := Destination{Root: t.TempDir(), Policy: PolicyConfine}
	_, _, err := d.Open("absent", "a.bin")
	assert.ErrorIs(t, err, ErrFileAccess)
}

func TestDestinationOpenRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	victim := filepath.Join(outside, "victim.txt")
	require.NoError(t, os.WriteFile(victim, []byte("keep me"), 0o644))
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(victim, filepath.Join(root, "alias.txt")))

	tests := []struct {
		name string
		d    Destination
		dir  string
		file string
	}{
		{name: "directory link", d: Destination{Root: root}, dir: "link", file: "victim.txt"},
		{name: "directory link with mkdir", d: Destination{Root: root, MkdirAll: true}, dir: "link/sub", file: "new.txt"},
		{name: "filename link", d: Destination{Root: root}, dir: "", file: "alias.txt"},
		{name: "filename link flatten", d: Destination{Root: root, Policy: PolicyFlatten}, dir: "ignored", file: "alias.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, err := tt.d.Open(tt.dir, tt.file)
			if err == nil {
				f.Close()
			}
			assert.ErrorIs(t, err, ErrFileAccess)
		})
	}

	got, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got), "file outside the root was modified")
	_, err = os.Stat(filepath.Join(outside, "sub"))
	assert.True(t, os.IsNotExist(err), "directory created outside the root")
}

func TestParsePathPolicy(t *testing.T) {
	for in, want := range map[string]PathPolicy{"": PolicyConfine, "confine": PolicyConfine, "flatten": PolicyFlatten} {
		got, err := ParsePathPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePathPolicy("trust")
	assert.Error(t, err)
}
