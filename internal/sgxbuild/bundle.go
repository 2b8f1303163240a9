package sgxbuild

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Bundle formats, selected by file extension.
const (
	formatTarZst = "tar.zst"
	formatTarXz  = "tar.xz"
	formatTarGz  = "tar.gz"
	formatZip    = "zip"
)

func bundleFormat(path string) (string, error) {
	switch {
	case strings.HasSuffix(path, ".tar.zst"):
		return formatTarZst, nil
	case strings.HasSuffix(path, ".tar.xz"):
		return formatTarXz, nil
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		return formatTarGz, nil
	case strings.HasSuffix(path, ".zip"):
		return formatZip, nil
	}
	return "", fmt.Errorf("unsupported bundle extension: %s", filepath.Base(path))
}

// bundleFiles lists the regular files under dir as sorted relative paths.
func bundleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

// CreateBundle archives the regular files of srcDir into dest and returns how
// many were written. The format follows dest's extension.
func CreateBundle(srcDir, dest string) (int, error) {
	format, err := bundleFormat(dest)
	if err != nil {
		return 0, err
	}
	files, err := bundleFiles(srcDir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", srcDir, err)
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("nothing to bundle in %s", srcDir)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	outFile, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create bundle file: %v", err)
	}
	defer outFile.Close()

	if format == formatZip {
		err = writeZip(outFile, srcDir, files)
	} else {
		err = writeTar(outFile, format, srcDir, files)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add files to bundle: %v", err)
	}
	return len(files), outFile.Close()
}

func writeTar(w io.Writer, format, srcDir string, files []string) error {
	var cw io.WriteCloser
	switch format {
	case formatTarZst:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %v", err)
		}
		cw = zw
	case formatTarXz:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create xz writer: %v", err)
		}
		cw = xw
	default:
		cw = pgzip.NewWriter(w)
	}

	tw := tar.NewWriter(cw)
	for _, rel := range files {
		path := filepath.Join(srcDir, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		// Bundles are portable: numeric root ownership for every entry.
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if err := copyInto(tw, path); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

func writeZip(w io.Writer, srcDir string, files []string) error {
	zw := zip.NewWriter(w)
	for _, rel := range files {
		path := filepath.Join(srcDir, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = rel
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if err := copyInto(fw, path); err != nil {
			return err
		}
	}
	return zw.Close()
}

func copyInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ReadBundleIndex lists the file names stored in a bundle.
func ReadBundleIndex(path string) ([]string, error) {
	format, err := bundleFormat(path)
	if err != nil {
		return nil, err
	}

	if format == formatZip {
		r, err := zip.OpenReader(path)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		names := make([]string, 0, len(r.File))
		for _, f := range r.File {
			names = append(names, f.Name)
		}
		return names, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case formatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case formatTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, err
		}
		r = xr
	default:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	var names []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}
