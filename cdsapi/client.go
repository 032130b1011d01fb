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

// Package cdsapi retrieves forecast archives from the Copernicus
// Atmosphere and Climate Data Stores and unpacks them.
package cdsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/camsmap"
)

// Client submits retrieve requests and downloads their results.
type Client struct {
	// URL is the API root, for example DefaultURL.
	URL string

	// Key is the personal access token.
	Key string

	HTTP *http.Client

	// PollInterval is the time between job status checks.
	PollInterval time.Duration

	// NewBackOff returns the retry policy used for each HTTP call.
	NewBackOff func() backoff.BackOff

	Log logrus.FieldLogger
}

// NewClient returns a client for the API at url.
func NewClient(url, key string) *Client {
	return &Client{
		URL:          strings.TrimSuffix(url, "/"),
		Key:          key,
		HTTP:         http.DefaultClient,
		PollInterval: 5 * time.Second,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 10 * time.Minute
			return b
		},
		Log: logrus.StandardLogger(),
	}
}

type jobStatus struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
}

type jobResults struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Retrieve submits req for dataset, waits for the job to finish, and
// downloads the result to dst. Errors wrap camsmap.ErrFetch.
func (c *Client) Retrieve(ctx context.Context, dataset string, req *Request, dst string) error {
	log := c.Log.WithFields(logrus.Fields{"stage": "fetch", "dataset": dataset})
	id, err := c.submit(ctx, dataset, req)
	if err != nil {
		return fmt.Errorf("%w: submitting request: %v", camsmap.ErrFetch, err)
	}
	log = log.WithField("job", id)
	log.Info("request accepted")
	href, err := c.wait(ctx, id, log)
	if err != nil {
		return fmt.Errorf("%w: job %s: %v", camsmap.ErrFetch, id, err)
	}
	if err := c.download(ctx, href, dst); err != nil {
		return fmt.Errorf("%w: downloading %s: %v", camsmap.ErrFetch, href, err)
	}
	log.WithFields(logrus.Fields{"file": dst, "status": "ok"}).Info("downloaded archive")
	return nil
}

func (c *Client) submit(ctx context.Context, dataset string, req *Request) (string, error) {
	body, err := json.Marshal(map[string]interface{}{"inputs": req})
	if err != nil {
		return "", err
	}
	var st jobStatus
	u := fmt.Sprintf("%s/retrieve/v1/processes/%s/execution", c.URL, dataset)
	if err := c.call(ctx, http.MethodPost, u, body, &st); err != nil {
		return "", err
	}
	if st.JobID == "" {
		return "", fmt.Errorf("no job ID in response")
	}
	return st.JobID, nil
}

// wait polls job id until it has finished and returns the location of
// its result.
func (c *Client) wait(ctx context.Context, id string, log logrus.FieldLogger) (string, error) {
	u := fmt.Sprintf("%s/retrieve/v1/jobs/%s", c.URL, id)
	last := ""
	for {
		var st jobStatus
		if err := c.call(ctx, http.MethodGet, u, nil, &st); err != nil {
			return "", err
		}
		if st.Status != last {
			log.WithField("job_status", st.Status).Debug("job status changed")
			last = st.Status
		}
		switch st.Status {
		case "successful":
			var res jobResults
			if err := c.call(ctx, http.MethodGet, u+"/results", nil, &res); err != nil {
				return "", err
			}
			if res.Asset.Value.Href == "" {
				return "", fmt.Errorf("no result location in response")
			}
			return res.Asset.Value.Href, nil
		case "failed", "dismissed", "rejected":
			// The results endpoint describes the failure.
			err := c.call(ctx, http.MethodGet, u+"/results", nil, nil)
			if err == nil {
				err = fmt.Errorf("job %s", st.Status)
			}
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// call performs an API request, retrying network errors, rate limiting
// and server errors. The response is decoded into out if it is not nil.
func (c *Client) call(ctx context.Context, method, url string, body []byte, out interface{}) error {
	op := func() error {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("PRIVATE-TOKEN", c.Key)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response from %s: %v", url, err))
		}
		return nil
	}
	return c.retry(ctx, op)
}

func (c *Client) retry(ctx context.Context, op backoff.Operation) error {
	b := backoff.WithContext(c.NewBackOff(), ctx)
	return backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		c.Log.WithField("stage", "fetch").Warnf("%v: retrying in %v", err, d)
	})
}

// checkStatus returns nil for successful responses, a retryable error for
// rate limiting and server errors, and a permanent error otherwise.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	msg := resp.Status
	var e apiError
	if b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(b, &e) == nil {
		if e.Title != "" {
			msg += ": " + e.Title
		}
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
	}
	err := fmt.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL, msg)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}

// download copies href to dst through a temporary file in the same
// directory.
func (c *Client) download(ctx context.Context, href, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return err
	}
	tmp := dst + ".part"
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		f, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	if err := c.retry(ctx, op); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
