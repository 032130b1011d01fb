/*
Copyright © 2024 the CAMSMap authors.
This file is part of CAMSMap.

CAMSMap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CAMSMap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CAMSMap.  If not, see <http://www.gnu.org/licenses/>.
*/

package camsutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spatialmodel/camsmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	Root.SetOut(&out)
	Root.SetErr(&out)
	Root.SetArgs(args)
	t.Cleanup(func() {
		Root.SetOut(nil)
		Root.SetErr(nil)
		Root.SetArgs(nil)
	})
	err := Root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "CAMSMap v"+camsmap.Version+"\n", out)
}

func TestExtractCommand(t *testing.T) {
	dir := t.TempDir()
	archive := writeArchive(t)
	require.NoError(t, os.Rename(archive, filepath.Join(dir, "download.zip")))

	out, err := execute(t, "extract", "--DataDir", dir, "--suffix", "aod")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data_sfc_aod.nc"), strings.TrimSpace(out))
	assert.FileExists(t, filepath.Join(dir, "data_sfc_aod.nc"))
}

func TestBadLogLevel(t *testing.T) {
	_, err := execute(t, "version", "--LogLevel", "loud")
	assert.Error(t, err)
	Cfg.Set("LogLevel", "info")
}

func TestOptionsDocumented(t *testing.T) {
	for _, o := range options {
		assert.NotEmpty(t, strings.TrimSpace(o.usage), o.name)
		assert.NotEmpty(t, o.flagsets, o.name)
	}
}
