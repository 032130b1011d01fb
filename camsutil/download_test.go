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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeDownloadLocal(t *testing.T) {
	ctx := context.Background()
	for _, p := range []string{"", "/dev/null", "/blah/test/"} {
		k, err := maybeDownload(ctx, p, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, p, k)
	}
}

// shpServer serves a shapefile without a projection file.
func shpServer(t *testing.T, files ...string) *httptest.Server {
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(f), 0644))
	}
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	t.Cleanup(srv.Close)
	return srv
}

func TestMaybeDownloadHTTP(t *testing.T) {
	srv := shpServer(t, "coast.shp", "coast.dbf", "coast.shx", "logo.png")
	dir := filepath.Join(t.TempDir(), "assets")

	k, err := maybeDownload(context.Background(), srv.URL+"/coast.shp", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "coast.shp"), k)
	for _, f := range []string{"coast.shp", "coast.dbf", "coast.shx"} {
		b, err := os.ReadFile(filepath.Join(dir, f))
		require.NoError(t, err)
		assert.Equal(t, f, string(b))
	}
	assert.NoFileExists(t, filepath.Join(dir, "coast.prj"))

	k, err = maybeDownload(context.Background(), srv.URL+"/logo.png", dir)
	require.NoError(t, err)
	assert.FileExists(t, k)
}

func TestMaybeDownloadHTTPMissing(t *testing.T) {
	srv := shpServer(t, "coast.shp", "coast.shx")
	_, err := maybeDownload(context.Background(), srv.URL+"/coast.shp", t.TempDir())
	assert.ErrorContains(t, err, "coast.dbf")
}

func TestMaybeDownloadBlob(t *testing.T) {
	src := t.TempDir()
	for _, f := range []string{"region.shp", "region.dbf", "region.shx", "region.prj"} {
		require.NoError(t, os.WriteFile(filepath.Join(src, f), []byte(f), 0644))
	}
	dir := t.TempDir()
	k, err := maybeDownload(context.Background(), "file://"+filepath.ToSlash(src)+"/region.shp", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "region.shp"), k)
	assert.FileExists(t, filepath.Join(dir, "region.prj"))

	_, err = maybeDownload(context.Background(), "file://"+filepath.ToSlash(src)+"/missing.png", dir)
	assert.Error(t, err)
}

func TestExpandShp(t *testing.T) {
	assert.Equal(t, []string{"a/b.shp", "a/b.dbf", "a/b.shx", "a/b.prj"}, expandShp("a/b.shp"))
	assert.Equal(t, []string{"a/b.png"}, expandShp("a/b.png"))
}
