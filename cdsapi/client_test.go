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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/camsmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	*httptest.Server
	polls      int32
	pollsUntil int32
	finalState string
	submitted  map[string]interface{}
	failFirst  int32
	token      string
}

func newFakeServer(t *testing.T) *fakeServer {
	s := &fakeServer{finalState: "successful", pollsUntil: 2}
	mux := http.NewServeMux()
	mux.HandleFunc("/retrieve/v1/processes/"+Dataset+"/execution", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&s.failFirst, -1) >= 0 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		s.token = r.Header.Get("PRIVATE-TOKEN")
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s.submitted = body
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"jobID": "abc", "status": "accepted"}`)
	})
	mux.HandleFunc("/retrieve/v1/jobs/abc", func(w http.ResponseWriter, r *http.Request) {
		status := "running"
		if atomic.AddInt32(&s.polls, 1) >= s.pollsUntil {
			status = s.finalState
		}
		fmt.Fprintf(w, `{"jobID": "abc", "status": %q}`, status)
	})
	mux.HandleFunc("/retrieve/v1/jobs/abc/results", func(w http.ResponseWriter, r *http.Request) {
		if s.finalState != "successful" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"title": "The job has failed", "detail": "no data"}`)
			return
		}
		fmt.Fprintf(w, `{"asset": {"value": {"href": %q}}}`, s.URL+"/download/abc.zip")
	})
	mux.HandleFunc("/download/abc.zip", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "archive contents")
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func testClient(url string) (*Client, *test.Hook) {
	log, hook := test.NewNullLogger()
	c := NewClient(url, "secret")
	c.PollInterval = time.Millisecond
	c.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	c.Log = log
	return c, hook
}

func TestRetrieve(t *testing.T) {
	s := newFakeServer(t)
	c, _ := testClient(s.URL + "/")
	dst := filepath.Join(t.TempDir(), "out", "a.zip")
	req := DefaultRequests(2)[0].Request
	req.SetDate(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, c.Retrieve(context.Background(), Dataset, &req, dst))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "archive contents", string(b))
	assert.Equal(t, "secret", s.token)
	inputs := s.submitted["inputs"].(map[string]interface{})
	assert.Equal(t, "2024-03-01/2024-03-01", inputs["date"])
	assert.Equal(t, []interface{}{"0", "1", "2"}, inputs["leadtime_hour"])
	assert.GreaterOrEqual(t, atomic.LoadInt32(&s.polls), int32(2))
	_, err = os.Stat(dst + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestRetrieveFailedJob(t *testing.T) {
	s := newFakeServer(t)
	s.finalState = "failed"
	c, _ := testClient(s.URL)
	err := c.Retrieve(context.Background(), Dataset, &Request{}, filepath.Join(t.TempDir(), "a.zip"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, camsmap.ErrFetch))
	assert.Contains(t, err.Error(), "The job has failed")
}

func TestRetrieveRetriesServerErrors(t *testing.T) {
	s := newFakeServer(t)
	s.failFirst = 2
	c, hook := testClient(s.URL)
	err := c.Retrieve(context.Background(), Dataset, &Request{}, filepath.Join(t.TempDir(), "a.zip"))
	require.NoError(t, err)
	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestRetrieveClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"title": "Authentication failed"}`)
	}))
	defer srv.Close()
	c, _ := testClient(srv.URL)
	err := c.Retrieve(context.Background(), Dataset, &Request{}, filepath.Join(t.TempDir(), "a.zip"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, camsmap.ErrFetch))
	assert.Contains(t, err.Error(), "Authentication failed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetrieveCanceled(t *testing.T) {
	s := newFakeServer(t)
	s.pollsUntil = 1 << 30
	c, _ := testClient(s.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Retrieve(ctx, Dataset, &Request{}, filepath.Join(t.TempDir(), "a.zip"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, camsmap.ErrFetch))
}

func TestFetchCache(t *testing.T) {
	s := newFakeServer(t)
	c, _ := testClient(s.URL)
	dir := t.TempDir()
	r := DefaultRequests(1)[1]

	path, err := c.Fetch(context.Background(), dir, &r, true)
	require.NoError(t, err)
	assert.Equal(t, CachePath(dir, &r), path)
	require.NoError(t, os.WriteFile(path, []byte("cached"), 0644))

	path, err = c.Fetch(context.Background(), dir, &r, true)
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(b), "archive should not be downloaded again")

	_, err = c.Fetch(context.Background(), dir, &r, false)
	require.NoError(t, err)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "archive contents", string(b))
}

func TestCachePathDependsOnRequest(t *testing.T) {
	a := DefaultRequests(120)[0]
	b := DefaultRequests(120)[0]
	assert.Equal(t, CachePath("d", &a), CachePath("d", &b))
	b.SetDate(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.NotEqual(t, CachePath("d", &a), CachePath("d", &b))
}
