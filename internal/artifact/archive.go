// ABOUTME: Workspace archive packing as tar+zstd with checksum capture
// ABOUTME: Streaming writer; extraction exists for recovery and tests

package artifact

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ArchiveInfo describes a produced archive file.
type ArchiveInfo struct {
	Path      string
	SizeBytes int64
	Checksum  string
	FileCount int64
}

// BuildArchive packs sourceDir into a tar+zstd archive at destPath.
// Entry names are relative to sourceDir. The archive file is written
// atomically enough for our purposes: on error the partial file is
// removed and the error returned.
func BuildArchive(ctx context.Context, sourceDir, destPath string) (*ArchiveInfo, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("creating archive file: %w", err)
	}

	info, err := writeArchive(ctx, sourceDir, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		return nil, err
	}

	stat, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	info.Path = destPath
	info.SizeBytes = stat.Size()
	return info, nil
}

func writeArchive(ctx context.Context, sourceDir string, file io.Writer) (*ArchiveInfo, error) {
	hash := sha256.New()
	zw, err := zstd.NewWriter(io.MultiWriter(file, hash), zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	var fileCount int64
	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", path, err)
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		var linkTarget string
		if info.Mode()&fs.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			// Sockets, pipes and devices have no place in an archive.
			return nil
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("building header for %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("writing header for %s: %w", rel, err)
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			_, err = io.Copy(tw, f)
			f.Close()
			if err != nil {
				return fmt.Errorf("copying %s: %w", rel, err)
			}
			fileCount++
		}
		return nil
	})

	if walkErr != nil {
		tw.Close()
		zw.Close()
		return nil, fmt.Errorf("packing %s: %w", sourceDir, walkErr)
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd writer: %w", err)
	}

	return &ArchiveInfo{
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
		FileCount: fileCount,
	}, nil
}

// ExtractArchive unpacks a tar+zstd archive into destDir. Entries that
// would escape destDir are rejected.
func ExtractArchive(archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive entry: %w", err)
		}

		target, err := sanitizePath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode).Perm()); err != nil {
				return fmt.Errorf("creating directory %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent for %s: %w", header.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(header.Mode).Perm())
			if err != nil {
				return fmt.Errorf("creating file %s: %w", header.Name, err)
			}
			_, err = io.Copy(out, tr)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("extracting %s: %w", header.Name, err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", header.Name, err)
			}
		}
	}
}

// sanitizePath joins name under destDir and rejects traversal escapes.
func sanitizePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}
