// Package archive rolls a rig's working directory into a single
// compressed tarball, verifies the result is readable, and records a
// blake3 checksum alongside it. Only after verification does the caller
// remove the working directory.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Codec selects the archive compression.
type Codec string

const (
	Gzip Codec = "gz"
	Zstd Codec = "zst"
)

// ParseCodec validates a rigfile codec value. Empty selects gzip.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "gz", "gzip":
		return Gzip, nil
	case "zst", "zstd":
		return Zstd, nil
	}
	return "", fmt.Errorf("unknown archive codec %q (want gz or zst)", s)
}

// Create tars workDir into destDir as <rigName>-<timestamp>.tar.<codec>
// and returns the archive path. An empty working directory produces no
// archive and no error.
func Create(workDir, destDir, rigName string, codec Codec) (string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", fmt.Errorf("read working directory: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	stamp := time.Now().Format("2006-01-02-150405")
	base := fmt.Sprintf("%s-%s", rigName, stamp)
	path := filepath.Join(destDir, fmt.Sprintf("%s.tar.%s", base, codec))

	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	if err := writeTar(out, workDir, base, codec); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close archive: %w", err)
	}
	return path, nil
}

func writeTar(out io.Writer, workDir, base string, codec Codec) error {
	var compressor io.WriteCloser
	switch codec {
	case Zstd:
		zw, err := zstd.NewWriter(out)
		if err != nil {
			return fmt.Errorf("initialize zstd writer: %w", err)
		}
		compressor = zw
	default:
		compressor = gzip.NewWriter(out)
	}

	tw := tar.NewWriter(compressor)
	err := filepath.WalkDir(workDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(workDir, p)
		if err != nil {
			return err
		}
		name := filepath.Join(base, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		// sockets and other specials have no business in the archive
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		tw.Close()
		compressor.Close()
		return fmt.Errorf("tar working directory: %w", err)
	}
	if err := tw.Close(); err != nil {
		compressor.Close()
		return fmt.Errorf("finalize tar stream: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("finalize compression: %w", err)
	}
	return nil
}

// Verify reads the archive end to end, confirming every entry is
// extractable, and writes a blake3 checksum of the compressed file to
// <archive>.blake3. Returns the number of entries seen.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive for verification: %w", err)
	}
	defer f.Close()

	hasher := blake3.New()
	tee := io.TeeReader(f, hasher)

	var decompressor io.Reader
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(tee)
		if err != nil {
			return 0, fmt.Errorf("read archive: %w", err)
		}
		defer zr.Close()
		decompressor = zr
	} else {
		gr, err := gzip.NewReader(tee)
		if err != nil {
			return 0, fmt.Errorf("read archive: %w", err)
		}
		defer gr.Close()
		decompressor = gr
	}

	tr := tar.NewReader(decompressor)
	entries := 0
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("archive is not readable: %w", err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return entries, fmt.Errorf("archive entry is not readable: %w", err)
		}
		entries++
	}

	sum := fmt.Sprintf("%x  %s\n", hasher.Sum(nil), filepath.Base(path))
	if err := os.WriteFile(path+".blake3", []byte(sum), 0o644); err != nil {
		return entries, fmt.Errorf("write archive checksum: %w", err)
	}
	return entries, nil
}
