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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/camsmap"
)

// Extract unpacks the NetCDF files in archive into dir. A member whose name
// contains "plev" is written as data_plev_<suffix>.nc and one containing
// "sfc" as data_sfc_<suffix>.nc. Other members keep their base name.
// It returns the paths written, in archive order.
func Extract(archive, dir, suffix string, log logrus.FieldLogger) ([]string, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"stage": "extract", "archive": filepath.Base(archive)})
	z, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", camsmap.ErrArchiveFormat, archive, err)
	}
	defer z.Close()

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("cdsapi: %v", err)
	}
	seen := make(map[string]string)
	var paths []string
	recognized := 0
	for _, f := range z.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(f.Name)
		if base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
			return nil, fmt.Errorf("%w: invalid member name %q", camsmap.ErrArchiveFormat, f.Name)
		}
		name, ok := canonicalName(base, suffix)
		if ok {
			recognized++
		} else {
			log.WithFields(logrus.Fields{"member": f.Name, "status": "warn"}).Warn("unrecognized archive member")
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: members %s and %s both map to %s",
				camsmap.ErrArchiveFormat, prev, f.Name, name)
		}
		seen[name] = f.Name
		path := filepath.Join(dir, name)
		if err := extractFile(f, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if recognized == 0 {
		return nil, fmt.Errorf("%w: %s has no plev or sfc file", camsmap.ErrArchiveFormat, archive)
	}
	log.WithFields(logrus.Fields{"files": len(paths), "status": "ok"}).Info("extracted archive")
	return paths, nil
}

func canonicalName(base, suffix string) (string, bool) {
	switch {
	case strings.Contains(base, "plev"):
		return "data_plev_" + suffix + ".nc", true
	case strings.Contains(base, "sfc"):
		return "data_sfc_" + suffix + ".nc", true
	}
	return base, false
}

func extractFile(f *zip.File, path string) error {
	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", camsmap.ErrArchiveFormat, f.Name, err)
	}
	defer r.Close()
	tmp := path + ".tmp"
	w, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cdsapi: %v", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", camsmap.ErrArchiveFormat, f.Name, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cdsapi: %v", err)
	}
	return os.Rename(tmp, path)
}

// SingleArchive returns the path of the only zip archive in dir.
func SingleArchive(dir string) (string, error) {
	m, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	if err != nil {
		return "", fmt.Errorf("cdsapi: %v", err)
	}
	if len(m) != 1 {
		return "", fmt.Errorf("%w: expected exactly one zip archive in %s, found %d",
			camsmap.ErrArchiveFormat, dir, len(m))
	}
	return m[0], nil
}

// CleanDir removes zip archives and NetCDF files left at the top level of
// dir by an earlier run. Subdirectories, including the download cache,
// are not touched. It returns the removed paths.
func CleanDir(dir string) ([]string, error) {
	var removed []string
	for _, pattern := range []string{"*.zip", "*.nc"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return removed, fmt.Errorf("cdsapi: %v", err)
		}
		for _, p := range m {
			if err := os.Remove(p); err != nil {
				return removed, fmt.Errorf("cdsapi: cleaning %s: %v", dir, err)
			}
			removed = append(removed, p)
		}
	}
	sort.Strings(removed)
	return removed, nil
}
