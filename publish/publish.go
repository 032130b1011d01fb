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

// Package publish copies rendered artifacts to their public location.
package publish

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocred "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/camsmap"
)

// Kind is the type of a publishing destination.
type Kind int

// Destination kinds.
const (
	Bucket Kind = iota // file://, s3:// or gs://
	MinIO              // minio://host/bucket/prefix
	Rsync              // [user@]host:path
)

// Destination is a parsed publishing target.
type Destination struct {
	Kind Kind

	// URL is set for Bucket and MinIO destinations.
	URL *url.URL

	// Remote is the rsync target for Rsync destinations.
	Remote string
}

// ParseDestination parses dest. A string without a scheme is an rsync
// target if it has a colon before its first slash, and a local
// directory otherwise.
func ParseDestination(dest string) (*Destination, error) {
	if dest == "" {
		return nil, fmt.Errorf("publish: empty destination")
	}
	if !strings.Contains(dest, "://") {
		if i := strings.Index(dest, ":"); i > 0 && !strings.Contains(dest[:i], "/") && !isDriveLetter(dest[:i]) {
			return &Destination{Kind: Rsync, Remote: dest}, nil
		}
		abs, err := filepath.Abs(dest)
		if err != nil {
			return nil, fmt.Errorf("publish: %v", err)
		}
		return &Destination{Kind: Bucket, URL: &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}}, nil
	}
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("publish: %v", err)
	}
	switch u.Scheme {
	case "file", "s3", "gs":
		return &Destination{Kind: Bucket, URL: u}, nil
	case "minio":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return nil, fmt.Errorf("publish: minio destination %q must be minio://host/bucket[/prefix]", dest)
		}
		return &Destination{Kind: MinIO, URL: u}, nil
	}
	return nil, fmt.Errorf("publish: unsupported destination scheme %q", u.Scheme)
}

func isDriveLetter(s string) bool { return len(s) == 1 }

// Join returns the destination for the subdirectory elem of d.
func (d *Destination) Join(elem string) *Destination {
	o := *d
	if d.URL != nil {
		u := *d.URL
		u.Path = path.Join("/", u.Path, elem)
		o.URL = &u
	} else {
		o.Remote = strings.TrimSuffix(d.Remote, "/") + "/" + elem
	}
	return &o
}

func (d *Destination) String() string {
	if d.URL != nil {
		return d.URL.String()
	}
	return d.Remote
}

// Publisher copies files to a Destination.
type Publisher struct {
	// RsyncPath is the rsync executable. It defaults to "rsync".
	RsyncPath string

	Log logrus.FieldLogger
}

// NewPublisher returns a Publisher using rsync from the PATH.
func NewPublisher() *Publisher {
	return &Publisher{RsyncPath: "rsync", Log: logrus.StandardLogger()}
}

// Publish copies the files matching glob, in sorted order, to
// destination/<base name>. It is an error for glob to match nothing.
// Errors wrap camsmap.ErrPublish.
func Publish(ctx context.Context, glob, destination string) error {
	d, err := ParseDestination(destination)
	if err != nil {
		return fmt.Errorf("%w: %v", camsmap.ErrPublish, err)
	}
	return NewPublisher().Files(ctx, d, glob)
}

// Files copies the files matching the given globs to d.
func (p *Publisher) Files(ctx context.Context, d *Destination, globs ...string) error {
	var files []string
	for _, g := range globs {
		m, err := filepath.Glob(g)
		if err != nil {
			return fmt.Errorf("%w: %v", camsmap.ErrPublish, err)
		}
		files = append(files, m...)
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no files match %s", camsmap.ErrPublish, strings.Join(globs, ", "))
	}
	sort.Strings(files)
	return p.Copy(ctx, d, files)
}

// Copy copies files to d/<base name>, in order.
func (p *Publisher) Copy(ctx context.Context, d *Destination, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: nothing to copy to %s", camsmap.ErrPublish, d)
	}
	var err error
	switch d.Kind {
	case Bucket:
		err = p.toBucket(ctx, d.URL, files)
	case MinIO:
		err = p.toMinIO(ctx, d.URL, files)
	case Rsync:
		err = p.rsync(ctx, d.Remote, files)
	default:
		err = fmt.Errorf("invalid destination kind %d", d.Kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", camsmap.ErrPublish, d, err)
	}
	p.Log.WithFields(logrus.Fields{"stage": "publish", "destination": d.String(), "files": len(files)}).
		Debug("copied files")
	return nil
}

func (p *Publisher) toBucket(ctx context.Context, u *url.URL, files []string) error {
	b, prefix, err := OpenBucket(ctx, u)
	if err != nil {
		return err
	}
	defer b.Close()
	for _, f := range files {
		if err := putBlob(ctx, b, path.Join(prefix, filepath.Base(f)), f); err != nil {
			return err
		}
	}
	return nil
}

// toMinIO uploads files to a MinIO server. Credentials are read from
// MINIO_ACCESS_KEY and MINIO_SECRET_KEY. TLS is used unless the URL has
// the query parameter secure=false.
func (p *Publisher) toMinIO(ctx context.Context, u *url.URL, files []string) error {
	secure := true
	if s := u.Query().Get("secure"); s != "" {
		var err error
		if secure, err = strconv.ParseBool(s); err != nil {
			return fmt.Errorf("invalid secure parameter: %v", err)
		}
	}
	client, err := minio.New(u.Host, &minio.Options{
		Creds:  miniocred.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
		Secure: secure,
	})
	if err != nil {
		return err
	}
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	bucket, prefix := parts[0], ""
	if len(parts) == 2 {
		prefix = parts[1]
	}
	for _, f := range files {
		_, err := client.FPutObject(ctx, bucket, path.Join(prefix, filepath.Base(f)), f,
			minio.PutObjectOptions{ContentType: contentType(f)})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) rsync(ctx context.Context, remote string, files []string) error {
	bin := p.RsyncPath
	if bin == "" {
		bin = "rsync"
	}
	dir := strings.TrimSuffix(remote, "/")
	args := append([]string{"-a", "--mkpath"}, files...)
	args = append(args, dir+"/")
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Artifacts copies the frames, animation and archive of the product with
// output prefix base to d/<product>. Frames of other products that share
// the prefix are not included.
func (p *Publisher) Artifacts(ctx context.Context, d *Destination, product, base string) error {
	frames, err := camsmap.ExistingFrames(base)
	if err != nil {
		return fmt.Errorf("%w: %v", camsmap.ErrPublish, err)
	}
	files := frames
	for _, ext := range []string{".gif", ".zip"} {
		if _, err := os.Stat(base + ext); err == nil {
			files = append(files, base+ext)
		}
	}
	return p.Copy(ctx, d.Join(product), files)
}
