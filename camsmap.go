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

// Package camsmap turns CAMS atmospheric-composition forecasts into
// sequences of styled map frames. A forecast field is loaded from a
// NetCDF file, converted to display units, classified either against a
// continuous color ramp or against the ICCA air-quality categories, and
// rendered once per forecast lead time. The frames for each product can
// then be packaged into an animated GIF and a zip archive.
package camsmap

import "errors"

// Version gives the version number.
const Version = "1.0.0"

// Errors returned by the pipeline. Callers should check them with errors.Is.
var (
	// ErrFetch indicates that the remote forecast archive could not be
	// retrieved. It is fatal for a run.
	ErrFetch = errors.New("camsmap: fetch failure")

	// ErrArchiveFormat indicates that a downloaded archive did not have
	// the expected contents. It is fatal for a run.
	ErrArchiveFormat = errors.New("camsmap: archive format error")

	// ErrFrameRender indicates that a single frame could not be drawn.
	// The frame is skipped and the rest of the batch continues.
	ErrFrameRender = errors.New("camsmap: frame render failure")

	// ErrPublish indicates that artifacts could not be transferred to
	// their remote destination. It is logged and otherwise ignored.
	ErrPublish = errors.New("camsmap: publish failure")
)
