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
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/camsmap/internal/hash"
)

// CachePath returns the location of the cached archive for r under dataDir.
func CachePath(dataDir string, r *NamedRequest) string {
	return filepath.Join(dataDir, "cache", hash.Hash(r.dataset(), &r.Request)+".zip")
}

// Fetch downloads the archive for r into the cache directory of dataDir and
// returns its path. If useCache is true and the archive is already
// present, it is not downloaded again.
func (c *Client) Fetch(ctx context.Context, dataDir string, r *NamedRequest, useCache bool) (string, error) {
	path := CachePath(dataDir, r)
	if useCache {
		if _, err := os.Stat(path); err == nil {
			c.Log.WithFields(logrus.Fields{"stage": "fetch", "request": r.Name, "status": "ok"}).
				Info("using cached archive")
			return path, nil
		}
	}
	if err := c.Retrieve(ctx, r.dataset(), &r.Request, path); err != nil {
		return "", err
	}
	return path, nil
}

func (r *NamedRequest) dataset() string {
	if r.Dataset == "" {
		return Dataset
	}
	return r.Dataset
}
