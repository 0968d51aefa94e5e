package emu

import (
	"io"
	"os"
	"sync"
	"time"
)

// FileDescriptor represents an open file descriptor of the emulated process.
type FileDescriptor struct {
	HostFile *os.File  // Host file handle, nil for redirected stdio
	Reader   io.Reader // Used when HostFile is nil
	Writer   io.Writer // Used when HostFile is nil
	Path     string
	Flags    int
}

// FDTable maps guest file descriptors to host files and streams.
type FDTable struct {
	fds map[uint64]*FileDescriptor
	mu  sync.Mutex
}

// NewFDTable creates a file descriptor table with fds 0-2 bound to the given
// streams. A nil stream reads as EOF or discards writes.
func NewFDTable(stdin io.Reader, stdout, stderr io.Writer) *FDTable {
	t := &FDTable{fds: make(map[uint64]*FileDescriptor)}

	t.fds[0] = &FileDescriptor{Path: "stdin", Reader: stdin}
	t.fds[1] = &FileDescriptor{Path: "stdout", Writer: stdout}
	t.fds[2] = &FileDescriptor{Path: "stderr", Writer: stderr}

	return t
}

// lowestFree returns the lowest unused descriptor number.
func (t *FDTable) lowestFree() uint64 {
	fd := uint64(0)
	for {
		if _, used := t.fds[fd]; !used {
			return fd
		}
		fd++
	}
}

// Open opens a host file and returns a new file descriptor.
func (t *FDTable) Open(path string, flags int, mode os.FileMode) (uint64, error) {
	hostFile, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fd := t.lowestFree()
	t.fds[fd] = &FileDescriptor{
		HostFile: hostFile,
		Path:     path,
		Flags:    flags,
	}

	return fd, nil
}

// Close closes a file descriptor. Redirected stdio streams are released but
// never closed on the host.
func (t *FDTable) Close(fd uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.fds[fd]
	if !exists {
		return os.ErrInvalid
	}
	delete(t.fds, fd)

	if entry.HostFile != nil && entry.HostFile != os.Stdin &&
		entry.HostFile != os.Stdout && entry.HostFile != os.Stderr {
		return entry.HostFile.Close()
	}

	return nil
}

// CloseAll closes every host file opened by the process.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	fds := make([]uint64, 0, len(t.fds))
	for fd := range t.fds {
		fds = append(fds, fd)
	}
	t.mu.Unlock()

	for _, fd := range fds {
		_ = t.Close(fd)
	}
}

// Get returns the file descriptor entry if it is open.
func (t *FDTable) Get(fd uint64) (*FileDescriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.fds[fd]
	return entry, exists
}

// IsOpen checks if a file descriptor is open.
func (t *FDTable) IsOpen(fd uint64) bool {
	_, ok := t.Get(fd)
	return ok
}

// Read reads from a file descriptor into a buffer. It returns 0 bytes at EOF.
func (t *FDTable) Read(fd uint64, buf []byte) (int, error) {
	entry, ok := t.Get(fd)
	if !ok {
		return 0, os.ErrInvalid
	}

	var r io.Reader = entry.Reader
	if entry.HostFile != nil {
		r = entry.HostFile
	}
	if r == nil {
		return 0, nil
	}

	n, err := r.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// Write writes a buffer to a file descriptor.
func (t *FDTable) Write(fd uint64, buf []byte) (int, error) {
	entry, ok := t.Get(fd)
	if !ok {
		return 0, os.ErrInvalid
	}

	var w io.Writer = entry.Writer
	if entry.HostFile != nil {
		w = entry.HostFile
	}
	if w == nil {
		return len(buf), nil
	}

	return w.Write(buf)
}

// Stat returns file information for a file descriptor.
func (t *FDTable) Stat(fd uint64) (os.FileInfo, error) {
	entry, ok := t.Get(fd)
	if !ok {
		return nil, os.ErrInvalid
	}

	if entry.HostFile == nil {
		return &stdioFileInfo{name: entry.Path}, nil
	}

	return entry.HostFile.Stat()
}

// Seek sets the file position for the given file descriptor.
func (t *FDTable) Seek(fd uint64, offset int64, whence int) (int64, error) {
	entry, ok := t.Get(fd)
	if !ok || entry.HostFile == nil {
		return 0, os.ErrInvalid
	}

	return entry.HostFile.Seek(offset, whence)
}

// stdioFileInfo describes a redirected standard stream as a character device.
type stdioFileInfo struct {
	name string
}

func (f *stdioFileInfo) Name() string       { return f.name }
func (f *stdioFileInfo) Size() int64        { return 0 }
func (f *stdioFileInfo) Mode() os.FileMode  { return os.ModeCharDevice | os.ModeDevice | 0o620 }
func (f *stdioFileInfo) ModTime() time.Time { return time.Time{} }
func (f *stdioFileInfo) IsDir() bool        { return false }
func (f *stdioFileInfo) Sys() any           { return nil }
