// Package tail follows a log file the way the rig clock wants it
// followed: the caller drains newly appended lines on each poll tick
// rather than receiving them asynchronously. Rotation (inode change or
// size shrink) is detected on drain and the follower reopens from the
// start of the new file.
package tail

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"syscall"
)

// Follower tracks one file from its end forward.
type Follower struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	inode  uint64
	offset int64
}

// Open opens path and positions the follower at end-of-file, so only
// lines appended after this call are ever returned.
func Open(path string) (*Follower, error) {
	f := &Follower{path: path}
	if err := f.open(io.SeekEnd); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Follower) open(whence int) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	offset, err := file.Seek(0, whence)
	if err != nil {
		file.Close()
		return fmt.Errorf("seek %s: %w", f.path, err)
	}
	f.file = file
	f.reader = bufio.NewReader(file)
	f.offset = offset
	f.inode = inodeOf(file)
	return nil
}

// Path returns the followed file path.
func (f *Follower) Path() string { return f.path }

// Drain returns all complete lines appended since the previous call.
// When the file has been rotated away, the follower reopens the path and
// reads the replacement from its beginning; bytes written to the old
// file after the last drain are not replayed. A missing file is not an
// error: the follower reports no lines and retries on the next drain.
func (f *Follower) Drain() ([]string, error) {
	if f.file == nil {
		if err := f.open(io.SeekStart); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
	}

	rotated, err := f.rotated()
	if err != nil {
		return nil, err
	}
	if rotated {
		f.Close()
		if err := f.open(io.SeekStart); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
	}

	var lines []string
	for {
		line, err := f.reader.ReadString('\n')
		if err == io.EOF {
			// hold the partial line until its newline arrives
			if line != "" {
				if _, serr := f.file.Seek(f.offset, io.SeekStart); serr == nil {
					f.reader.Reset(f.file)
				}
			}
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		f.offset += int64(len(line))
		lines = append(lines, trimEOL(line))
	}
}

// rotated reports whether the path now names a different file, or the
// same file truncated below our read offset.
func (f *Follower) rotated() (bool, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			// rotated away with no replacement yet; keep the old handle
			// so a late rename is picked up next drain
			return false, nil
		}
		return false, err
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Ino != f.inode {
		return true, nil
	}
	if info.Size() < f.offset {
		return true, nil
	}
	return false, nil
}

// Close releases the underlying file handle. Safe to call repeatedly.
func (f *Follower) Close() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
		f.reader = nil
	}
}

func inodeOf(file *os.File) uint64 {
	info, err := file.Stat()
	if err != nil {
		return 0
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}

func trimEOL(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
