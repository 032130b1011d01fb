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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spatialmodel/camsmap/publish"
	"gocloud.dev/gcerrors"
)

// maybeDownload checks if the input is an existing local file.
// If not, and it is an http(s) or blob storage URL, it downloads the file
// into dir and returns the path to the downloaded file.
// For shapefiles, it downloads all associated files and
// returns the path to the file with the ".shp" extension.
func maybeDownload(ctx context.Context, p, dir string) (string, error) {
	if p == "" {
		return p, nil
	}
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	switch {
	case strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://"):
		return downloadHTTP(ctx, p, dir)
	case IsBlob(p):
		return downloadBlob(ctx, p, dir)
	}
	return p, nil
}

// IsBlob returns whether the given filename represents a blob.
// (i.e., if it starts with `gs://`, 's3://', or 'file://').
func IsBlob(p string) bool {
	return strings.HasPrefix(p, "gs://") || strings.HasPrefix(p, "s3://") || strings.HasPrefix(p, "file://")
}

// downloadHTTP downloads the file at u and returns the path to the
// downloaded file.
func downloadHTTP(ctx context.Context, u, dir string) (string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}
	fnames := expandShp(u)
	for i, fname := range fnames {
		err := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fname, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return &statusError{url: fname, status: resp.Status, notFound: resp.StatusCode == http.StatusNotFound}
			}
			return writeFile(filepath.Join(dir, path.Base(fname)), resp.Body)
		}()
		if err != nil {
			if se, ok := err.(*statusError); ok && se.notFound && optionalShp(i, fname) {
				continue
			}
			return "", fmt.Errorf("camsmap: downloading %s: %v", fname, err)
		}
	}
	return filepath.Join(dir, path.Base(fnames[0])), nil
}

type statusError struct {
	url, status string
	notFound    bool
}

func (e *statusError) Error() string { return e.url + ": " + e.status }

// downloadBlob downloads the specified file from blob storage.
func downloadBlob(ctx context.Context, p, dir string) (string, error) {
	u, err := url.Parse(p)
	if err != nil {
		return "", err
	}
	key := strings.TrimPrefix(u.Path, "/")
	bucketURL := &url.URL{Scheme: u.Scheme, Host: u.Host}
	if u.Scheme == "file" {
		bucketURL.Path = path.Dir(u.Path)
		key = path.Base(u.Path)
	}
	bucket, prefix, err := publish.OpenBucket(ctx, bucketURL)
	if err != nil {
		return "", fmt.Errorf("camsmap: opening %s: %v", p, err)
	}
	defer bucket.Close()
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}
	fnames := expandShp(path.Join(prefix, key))
	for i, fname := range fnames {
		r, err := bucket.NewReader(ctx, fname, nil)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound && optionalShp(i, fname) {
				continue
			}
			return "", fmt.Errorf("camsmap: downloading %s: %v", fname, err)
		}
		err = writeFile(filepath.Join(dir, path.Base(fname)), r)
		r.Close()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, path.Base(fnames[0])), nil
}

func writeFile(p string, r io.Reader) error {
	w, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// expandShp returns the given file + associated [.dbf, .shx, .prj]
// files if the given file has the .shp extension, and returns the given
// file otherwise
func expandShp(filename string) []string {
	o := []string{filename}
	ext := path.Ext(filename)
	if ext != ".shp" {
		return o
	}
	for _, newExt := range []string{".dbf", ".shx", ".prj"} {
		o = append(o, filename[0:len(filename)-4]+newExt)
	}
	return o
}

// optionalShp reports whether the ith file returned by expandShp may be
// missing. Only the projection file is optional.
func optionalShp(i int, fname string) bool {
	return i > 0 && path.Ext(fname) == ".prj"
}
