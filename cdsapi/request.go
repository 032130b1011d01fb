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
	"strconv"
	"time"
)

// Dataset is the CAMS global atmospheric composition forecast dataset.
const Dataset = "cams-global-atmospheric-composition-forecasts"

// Request is the body of a retrieve request. Field names follow the
// dataset's request form.
type Request struct {
	Variable      []string  `json:"variable" toml:"variable"`
	PressureLevel []string  `json:"pressure_level,omitempty" toml:"pressure_level"`
	Date          string    `json:"date" toml:"date"`
	Time          []string  `json:"time" toml:"time"`
	LeadtimeHour  []string  `json:"leadtime_hour" toml:"leadtime_hour"`
	Type          []string  `json:"type" toml:"type"`
	DataFormat    string    `json:"data_format" toml:"data_format"`
	Area          []float64 `json:"area,omitempty" toml:"area"` // north, west, south, east
}

// NamedRequest is a request for the files in one variable group. Name is
// the suffix of the extracted file names, for example "polvo" for
// data_sfc_polvo.nc.
type NamedRequest struct {
	Name    string `toml:"name"`
	Dataset string `toml:"dataset"`
	Request
}

// SetDate sets the request to the forecast issued on day.
func (r *Request) SetDate(day time.Time) {
	d := day.Format("2006-01-02")
	r.Date = d + "/" + d
}

// LeadHours returns the lead times 0 through max hours.
func LeadHours(max int) []string {
	o := make([]string, max+1)
	for i := range o {
		o[i] = strconv.Itoa(i)
	}
	return o
}

// DefaultRequests returns the dust and particulate matter request for
// Central America and the dust optical depth request for the tropical
// Atlantic.
func DefaultRequests(maxLead int) []NamedRequest {
	return []NamedRequest{
		{
			Name:    "polvo",
			Dataset: Dataset,
			Request: Request{
				Variable: []string{
					"particulate_matter_2.5um",
					"particulate_matter_10um",
					"dust_aerosol_0.03-0.55um_mixing_ratio",
					"dust_aerosol_0.55-0.9um_mixing_ratio",
					"dust_aerosol_0.9-20um_mixing_ratio",
				},
				PressureLevel: []string{"1000"},
				Time:          []string{"00:00"},
				LeadtimeHour:  LeadHours(maxLead),
				Type:          []string{"forecast"},
				DataFormat:    "netcdf_zip",
				Area:          []float64{17, -93, 11, -82.33},
			},
		},
		{
			Name:    "aod",
			Dataset: Dataset,
			Request: Request{
				Variable:     []string{"dust_aerosol_optical_depth_550nm"},
				Time:         []string{"00:00"},
				LeadtimeHour: LeadHours(maxLead),
				Type:         []string{"forecast"},
				DataFormat:   "netcdf_zip",
				Area:         []float64{30, -100, 0, 0},
			},
		},
	}
}
