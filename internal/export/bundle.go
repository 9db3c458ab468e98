package export

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// Bundle describes a packed output directory.
type Bundle struct {
	Path   string
	SHA256 string
	Size   int64
}

// epoch is stamped on every entry so identical trees pack to identical bytes
var epoch = time.Unix(0, 0).UTC()

// Pack writes srcDir as a gzip-compressed tar to dst. Entries are stored in
// lexical order with fixed owner, mode and mtime, so the same tree always
// yields the same SHA-256.
func Pack(srcDir, dst string) (Bundle, error) {
	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return Bundle{}, xerrors.Wrapf(err, "resolve %s", srcDir)
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return Bundle{}, xerrors.Wrapf(err, "resolve %s", dst)
	}
	if rel, err := filepath.Rel(absSrc, absDst); err == nil && !strings.HasPrefix(rel, "..") {
		return Bundle{}, xerrors.Newf("bundle %s must not be inside %s", dst, srcDir)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return Bundle{}, xerrors.Wrap(err, "create bundle temp file")
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, h)}
	gz := gzip.NewWriter(cw)
	tw := tar.NewWriter(gz)

	root := os.DirFS(srcDir)
	err = fs.WalkDir(root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if d.IsDir() {
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     p + "/",
				Mode:     0o755,
				ModTime:  epoch,
				Format:   tar.FormatPAX,
			})
		}
		if !d.Type().IsRegular() {
			return xerrors.Newf("unsupported file type in output: %s", p)
		}
		return addFile(tw, root, p)
	})
	if err != nil {
		return Bundle{}, xerrors.Wrapf(err, "pack %s", srcDir)
	}

	if err := tw.Close(); err != nil {
		return Bundle{}, xerrors.Wrap(err, "close tar")
	}
	if err := gz.Close(); err != nil {
		return Bundle{}, xerrors.Wrap(err, "close gzip")
	}
	if err := tmp.Sync(); err != nil {
		return Bundle{}, xerrors.Wrap(err, "sync bundle")
	}
	if err := tmp.Close(); err != nil {
		return Bundle{}, xerrors.Wrap(err, "close bundle")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Bundle{}, xerrors.Wrapf(err, "rename bundle to %s", dst)
	}

	return Bundle{Path: dst, SHA256: hex.EncodeToString(h.Sum(nil)), Size: cw.n}, nil
}

func addFile(tw *tar.Writer, root fs.FS, p string) error {
	f, err := root.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     p,
		Size:     info.Size(),
		Mode:     0o644,
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return xerrors.Wrapf(err, "copy %s", p)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
