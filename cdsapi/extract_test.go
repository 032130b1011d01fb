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

package cdsapi

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/camsmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	z := zip.NewWriter(f)
	for name, content := range files {
		w, err := z.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, z.Close())
	require.NoError(t, f.Close())
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "download.zip")
	writeZip(t, archive, map[string]string{
		"data_plev.nc":     "plev",
		"data_sfc.nc":      "sfc",
		"request_info.txt": "info",
	})
	log, hook := test.NewNullLogger()
	out := filepath.Join(dir, "data")

	paths, err := Extract(archive, out, "polvo", log)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(out, "data_plev_polvo.nc"),
		filepath.Join(out, "data_sfc_polvo.nc"),
		filepath.Join(out, "request_info.txt"),
	}, paths)

	b, err := os.ReadFile(filepath.Join(out, "data_plev_polvo.nc"))
	require.NoError(t, err)
	assert.Equal(t, "plev", string(b))
	b, err = os.ReadFile(filepath.Join(out, "data_sfc_polvo.nc"))
	require.NoError(t, err)
	assert.Equal(t, "sfc", string(b))

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "request_info.txt", hook.AllEntries()[0].Data["member"])
}

func TestExtractErrors(t *testing.T) {
	dir := t.TempDir()
	notZip := filepath.Join(dir, "bad.zip")
	require.NoError(t, os.WriteFile(notZip, []byte("<html>error</html>"), 0644))
	noData := filepath.Join(dir, "nodata.zip")
	writeZip(t, noData, map[string]string{"readme.txt": "x"})
	dup := filepath.Join(dir, "dup.zip")
	writeZip(t, dup, map[string]string{"a_sfc.nc": "a", "b/c_sfc.nc": "b"})

	for name, archive := range map[string]string{"not a zip": notZip, "no data": noData, "duplicate": dup} {
		t.Run(name, func(t *testing.T) {
			log, _ := test.NewNullLogger()
			_, err := Extract(archive, filepath.Join(dir, "out"), "x", log)
			require.Error(t, err)
			assert.True(t, errors.Is(err, camsmap.ErrArchiveFormat), err.Error())
		})
	}
}

func TestSingleArchive(t *testing.T) {
	dir := t.TempDir()
	_, err := SingleArchive(dir)
	assert.True(t, errors.Is(err, camsmap.ErrArchiveFormat))

	a := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(a, nil, 0644))
	got, err := SingleArchive(dir)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.zip"), nil, 0644))
	_, err = SingleArchive(dir)
	assert.True(t, errors.Is(err, camsmap.ErrArchiveFormat))
}

func TestCleanDir(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"a.zip", "data_sfc_polvo.nc", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cache"), os.ModePerm))
	cached := filepath.Join(dir, "cache", "x.zip")
	require.NoError(t, os.WriteFile(cached, nil, 0644))

	removed, err := CleanDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.zip"), filepath.Join(dir, "data_sfc_polvo.nc")}, removed)
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
	assert.FileExists(t, cached)
}
