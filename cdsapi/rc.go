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
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultURL is the Atmosphere Data Store API.
const DefaultURL = "https://ads.atmosphere.copernicus.eu/api"

// DefaultRCFile returns the location of the user's .cdsapirc file.
func DefaultRCFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cdsapirc"
	}
	return filepath.Join(home, ".cdsapirc")
}

// Credentials returns the API URL and key. Explicit url and key values
// take precedence, followed by the CDSAPI_URL and CDSAPI_KEY environment
// variables and then the "url:" and "key:" entries of the rc file.
// A missing rc file is not an error, but a missing key is.
func Credentials(rcFile, url, key string) (string, string, error) {
	v := viper.New()
	v.SetEnvPrefix("CDSAPI")
	v.AutomaticEnv()
	v.SetDefault("url", DefaultURL)
	if rcFile != "" {
		if _, err := os.Stat(rcFile); err == nil {
			v.SetConfigFile(rcFile)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return "", "", fmt.Errorf("cdsapi: reading %s: %v", rcFile, err)
			}
		}
	}
	if url == "" {
		url = v.GetString("url")
	}
	if key == "" {
		key = v.GetString("key")
	}
	if key == "" {
		return "", "", fmt.Errorf("cdsapi: no API key; set Fetch.Key, CDSAPI_KEY or add 'key:' to %s", rcFile)
	}
	return url, key, nil
}
