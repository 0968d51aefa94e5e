package emu

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
)

// AArch64 Linux syscall numbers.
const (
	SyscallGetcwd        uint64 = 17
	SyscallIoctl         uint64 = 29
	SyscallOpenat        uint64 = 56
	SyscallClose         uint64 = 57
	SyscallLseek         uint64 = 62
	SyscallRead          uint64 = 63
	SyscallWrite         uint64 = 64
	SyscallWritev        uint64 = 66
	SyscallNewfstatat    uint64 = 79
	SyscallFstat         uint64 = 80
	SyscallExit          uint64 = 93
	SyscallExitGroup     uint64 = 94
	SyscallSetTidAddress uint64 = 96
	SyscallSetRobustList uint64 = 99
	SyscallClockGettime  uint64 = 113
	SyscallRtSigaction   uint64 = 134
	SyscallRtSigprocmask uint64 = 135
	SyscallUname         uint64 = 160
	SyscallGetpid        uint64 = 172
	SyscallGetuid        uint64 = 174
	SyscallGeteuid       uint64 = 175
	SyscallGetgid        uint64 = 176
	SyscallGetegid       uint64 = 177
	SyscallGettid        uint64 = 178
	SyscallBrk           uint64 = 214
	SyscallMunmap        uint64 = 215
	SyscallMmap          uint64 = 222
	SyscallMprotect      uint64 = 226
	SyscallMadvise       uint64 = 233
	SyscallGetrandom     uint64 = 278
)

// Linux error codes.
const (
	ENOENT = 2
	EIO    = 5
	EBADF  = 9
	ENOMEM = 12
	EACCES = 13
	EFAULT = 14
	EEXIST = 17
	EISDIR = 21
	EINVAL = 22
	ENOTTY = 25
	ESPIPE = 29
	ERANGE = 34
	ENOSYS = 38
)

const (
	atFDCWD     = -100
	atEmptyPath = 0x1000
	tcgets      = 0x5401
)

// Linux open(2) flags on AArch64.
const (
	oWronly = 0x1
	oRdwr   = 0x2
	oCreat  = 0x40
	oExcl   = 0x80
	oTrunc  = 0x200
	oAppend = 0x400
)

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// SyscallHandler is the interface for handling AArch64 syscalls.
type SyscallHandler interface {
	// Handle executes the syscall indicated by the register file state.
	// The syscall number is in X8, arguments in X0-X5 and the return
	// value goes to X0.
	Handle() SyscallResult
}

// AddressSpace manages the program break and anonymous mappings of the
// emulated process.
type AddressSpace interface {
	// Brk moves the program break to addr and returns the new break. An
	// invalid request returns the current break unchanged.
	Brk(addr uint64) uint64

	// Mmap maps length bytes of zeroed anonymous memory.
	Mmap(addr, length uint64) (uint64, error)

	// Munmap releases a mapping created by Mmap.
	Munmap(addr, length uint64) error
}

// Identity holds the process and user IDs reported by the id syscalls.
type Identity struct {
	PID  uint64
	UID  uint64
	EUID uint64
	GID  uint64
	EGID uint64
}

// DefaultIdentity returns the IDs used by simulated processes.
func DefaultIdentity() Identity {
	return Identity{PID: 100, UID: 100, EUID: 100, GID: 100, EGID: 100}
}

// LinuxSyscallHandler emulates the subset of the Linux syscall ABI used by
// statically linked user-space programs.
type LinuxSyscallHandler struct {
	regFile *RegFile
	memory  Memory
	fds     *FDTable
	space   AddressSpace
	ident   Identity
	cwd     string
	nowNs   func() uint64
	log     logrus.FieldLogger

	randState uint64
	warned    map[uint64]bool
}

// NewLinuxSyscallHandler creates a syscall handler.
func NewLinuxSyscallHandler(
	regFile *RegFile,
	memory Memory,
	fds *FDTable,
	space AddressSpace,
) *LinuxSyscallHandler {
	cwd, _ := os.Getwd()
	return &LinuxSyscallHandler{
		regFile:   regFile,
		memory:    memory,
		fds:       fds,
		space:     space,
		ident:     DefaultIdentity(),
		cwd:       cwd,
		nowNs:     func() uint64 { return 0 },
		log:       logrus.StandardLogger(),
		randState: 0x9E3779B97F4A7C15,
		warned:    make(map[uint64]bool),
	}
}

// Handle executes the syscall indicated by the register file state.
func (h *LinuxSyscallHandler) Handle() SyscallResult {
	num := h.regFile.ReadReg(8)

	switch num {
	case SyscallExit, SyscallExitGroup:
		return SyscallResult{Exited: true, ExitCode: int64(int32(h.arg(0)))}
	case SyscallRead:
		h.ret(h.read())
	case SyscallWrite:
		h.ret(h.write())
	case SyscallWritev:
		h.ret(h.writev())
	case SyscallOpenat:
		h.ret(h.openat())
	case SyscallClose:
		h.ret(h.close())
	case SyscallLseek:
		h.ret(h.lseek())
	case SyscallFstat:
		h.ret(h.fstat())
	case SyscallNewfstatat:
		h.ret(h.newfstatat())
	case SyscallBrk:
		h.ret(int64(h.space.Brk(h.arg(0))))
	case SyscallMmap:
		h.ret(h.mmap())
	case SyscallMunmap:
		if err := h.space.Munmap(h.arg(0), h.arg(1)); err != nil {
			h.ret(-EINVAL)
		} else {
			h.ret(0)
		}
	case SyscallGetpid, SyscallGettid, SyscallSetTidAddress:
		h.ret(int64(h.ident.PID))
	case SyscallGetuid:
		h.ret(int64(h.ident.UID))
	case SyscallGeteuid:
		h.ret(int64(h.ident.EUID))
	case SyscallGetgid:
		h.ret(int64(h.ident.GID))
	case SyscallGetegid:
		h.ret(int64(h.ident.EGID))
	case SyscallUname:
		h.ret(h.uname())
	case SyscallClockGettime:
		h.ret(h.clockGettime())
	case SyscallGetcwd:
		h.ret(h.getcwd())
	case SyscallIoctl:
		h.ret(h.ioctl())
	case SyscallRtSigaction, SyscallRtSigprocmask, SyscallSetRobustList,
		SyscallMprotect, SyscallMadvise:
		h.ret(0)
	case SyscallGetrandom:
		h.ret(h.getrandom())
	default:
		if !h.warned[num] {
			h.warned[num] = true
			h.log.WithField("syscall", num).Warn("unimplemented syscall, returning ENOSYS")
		}
		h.ret(-ENOSYS)
	}

	return SyscallResult{}
}

func (h *LinuxSyscallHandler) arg(i uint8) uint64 {
	return h.regFile.ReadReg(i)
}

func (h *LinuxSyscallHandler) ret(v int64) {
	h.regFile.WriteReg(0, uint64(v))
}

// errno converts a host error to a negated Linux errno.
func errno(err error) int64 {
	var en syscall.Errno
	switch {
	case errors.As(err, &en):
		return -int64(en)
	case errors.Is(err, fs.ErrNotExist):
		return -ENOENT
	case errors.Is(err, fs.ErrPermission):
		return -EACCES
	case errors.Is(err, fs.ErrExist):
		return -EEXIST
	case errors.Is(err, os.ErrInvalid):
		return -EBADF
	}
	return -EIO
}

// Transfer limits. Guest buffers move through the host in ioChunk pieces.
// Linux moves at most maxRWCount bytes per read or write, fills at most
// maxGetrandom bytes per getrandom, and accepts at most iovMax iovecs.
const (
	ioChunk      = 64 << 10
	maxRWCount   = 0x7ffff000
	maxGetrandom = 1<<25 - 1
	iovMax       = 1024
)

// read fills the guest buffer chunk by chunk and stops at the first short
// read, so a pipe or terminal returns what is available.
func (h *LinuxSyscallHandler) read() int64 {
	fd, buf, count := h.arg(0), h.arg(1), h.arg(2)
	if !h.fds.IsOpen(fd) {
		return -EBADF
	}
	count = min(count, maxRWCount)

	chunk := make([]byte, min(count, ioChunk))
	total := uint64(0)
	for total < count {
		want := min(count-total, ioChunk)
		n, err := h.fds.Read(fd, chunk[:want])
		if err != nil && n == 0 {
			if total == 0 {
				return errno(err)
			}
			break
		}
		if err := h.memory.Write(buf+total, chunk[:n]); err != nil {
			if total == 0 {
				return -EFAULT
			}
			break
		}
		total += uint64(n)
		if uint64(n) < want {
			break
		}
	}
	return int64(total)
}

func (h *LinuxSyscallHandler) write() int64 {
	fd, buf, count := h.arg(0), h.arg(1), h.arg(2)
	if !h.fds.IsOpen(fd) {
		return -EBADF
	}
	return h.writeOut(fd, buf, min(count, maxRWCount))
}

// writeOut copies length guest bytes at addr to fd and returns the number
// of bytes written, or a negated errno when nothing was written.
func (h *LinuxSyscallHandler) writeOut(fd, addr, length uint64) int64 {
	total := uint64(0)
	for total < length {
		want := min(length-total, ioChunk)
		data, err := h.memory.Read(addr+total, want)
		if err != nil {
			if total == 0 {
				return -EFAULT
			}
			break
		}
		n, err := h.fds.Write(fd, data)
		total += uint64(n)
		if err != nil {
			if total == 0 {
				return errno(err)
			}
			break
		}
		if uint64(n) < want {
			break
		}
	}
	return int64(total)
}

func (h *LinuxSyscallHandler) writev() int64 {
	fd, iov, iovcnt := h.arg(0), h.arg(1), h.arg(2)
	if !h.fds.IsOpen(fd) {
		return -EBADF
	}
	if iovcnt > iovMax {
		return -EINVAL
	}

	total := int64(0)
	for i := uint64(0); i < iovcnt; i++ {
		base, err := ReadUint(h.memory, iov+i*16, 8)
		if err != nil {
			return -EFAULT
		}
		length, err := ReadUint(h.memory, iov+i*16+8, 8)
		if err != nil {
			return -EFAULT
		}
		length = min(length, maxRWCount-uint64(total))
		if length == 0 {
			continue
		}

		n := h.writeOut(fd, base, length)
		if n < 0 {
			if total == 0 {
				return n
			}
			break
		}
		total += n
		if uint64(n) < length {
			break
		}
	}
	return total
}

func (h *LinuxSyscallHandler) resolvePath(dirfd uint64, path string) (string, int64) {
	if filepath.IsAbs(path) {
		return path, 0
	}
	if int32(dirfd) == atFDCWD {
		return filepath.Join(h.cwd, path), 0
	}

	entry, ok := h.fds.Get(dirfd)
	if !ok || entry.HostFile == nil {
		return "", -EBADF
	}
	return filepath.Join(entry.Path, path), 0
}

func hostOpenFlags(flags uint64) int {
	var out int
	switch {
	case flags&oRdwr != 0:
		out = os.O_RDWR
	case flags&oWronly != 0:
		out = os.O_WRONLY
	default:
		out = os.O_RDONLY
	}
	if flags&oCreat != 0 {
		out |= os.O_CREATE
	}
	if flags&oExcl != 0 {
		out |= os.O_EXCL
	}
	if flags&oTrunc != 0 {
		out |= os.O_TRUNC
	}
	if flags&oAppend != 0 {
		out |= os.O_APPEND
	}
	return out
}

func (h *LinuxSyscallHandler) openat() int64 {
	path, err := ReadCString(h.memory, h.arg(1), 4096)
	if err != nil {
		return -EFAULT
	}

	full, e := h.resolvePath(h.arg(0), path)
	if e != 0 {
		return e
	}

	fd, err := h.fds.Open(full, hostOpenFlags(h.arg(2)), os.FileMode(h.arg(3)&0o777))
	if err != nil {
		return errno(err)
	}
	return int64(fd)
}

func (h *LinuxSyscallHandler) close() int64 {
	if err := h.fds.Close(h.arg(0)); err != nil {
		return -EBADF
	}
	return 0
}

func (h *LinuxSyscallHandler) lseek() int64 {
	fd := h.arg(0)
	entry, ok := h.fds.Get(fd)
	if !ok {
		return -EBADF
	}
	if entry.HostFile == nil {
		return -ESPIPE
	}

	whence := int(h.arg(2))
	if whence < 0 || whence > 2 {
		return -EINVAL
	}
	pos, err := h.fds.Seek(fd, int64(h.arg(1)), whence)
	if err != nil {
		return errno(err)
	}
	return pos
}

func (h *LinuxSyscallHandler) fstat() int64 {
	info, err := h.fds.Stat(h.arg(0))
	if err != nil {
		return -EBADF
	}
	return h.writeStat(h.arg(1), info)
}

func (h *LinuxSyscallHandler) newfstatat() int64 {
	dirfd, statbuf, flags := h.arg(0), h.arg(2), h.arg(3)
	path, err := ReadCString(h.memory, h.arg(1), 4096)
	if err != nil {
		return -EFAULT
	}

	if path == "" && flags&atEmptyPath != 0 {
		info, err := h.fds.Stat(dirfd)
		if err != nil {
			return -EBADF
		}
		return h.writeStat(statbuf, info)
	}

	full, e := h.resolvePath(dirfd, path)
	if e != 0 {
		return e
	}
	info, err := os.Stat(full)
	if err != nil {
		return errno(err)
	}
	return h.writeStat(statbuf, info)
}

// writeStat fills an AArch64 struct stat (128 bytes).
func (h *LinuxSyscallHandler) writeStat(addr uint64, info os.FileInfo) int64 {
	buf := make([]byte, 128)
	le := binary.LittleEndian

	mode := uint32(info.Mode().Perm())
	switch {
	case info.IsDir():
		mode |= 0o040000
	case info.Mode()&os.ModeCharDevice != 0:
		mode |= 0o020000
	default:
		mode |= 0o100000
	}

	le.PutUint64(buf[0:], 1)                            // st_dev
	le.PutUint32(buf[16:], mode)                        // st_mode
	le.PutUint32(buf[20:], 1)                           // st_nlink
	le.PutUint32(buf[24:], uint32(h.ident.UID))         // st_uid
	le.PutUint32(buf[28:], uint32(h.ident.GID))         // st_gid
	le.PutUint64(buf[48:], uint64(info.Size()))         // st_size
	le.PutUint32(buf[56:], 4096)                        // st_blksize
	le.PutUint64(buf[64:], uint64(info.Size()+511)/512) // st_blocks
	mtime := info.ModTime().Unix()
	if info.ModTime().IsZero() {
		mtime = 0
	}
	le.PutUint64(buf[72:], uint64(mtime))
	le.PutUint64(buf[88:], uint64(mtime))
	le.PutUint64(buf[104:], uint64(mtime))

	if err := h.memory.Write(addr, buf); err != nil {
		return -EFAULT
	}
	return 0
}

func (h *LinuxSyscallHandler) mmap() int64 {
	addr, length, fd := h.arg(0), h.arg(1), h.arg(4)
	if length == 0 {
		return -EINVAL
	}
	if int64(fd) != -1 && int32(fd) != -1 {
		// File-backed mappings are not supported.
		return -ENOSYS
	}

	mapped, err := h.space.Mmap(addr, length)
	if err != nil {
		return -ENOMEM
	}
	return int64(mapped)
}

func (h *LinuxSyscallHandler) uname() int64 {
	fields := []string{"Linux", "sesim", "5.15.0", "#1 SMP", "aarch64", ""}
	buf := make([]byte, 65*len(fields))
	for i, f := range fields {
		copy(buf[i*65:], f)
	}
	if err := h.memory.Write(h.arg(0), buf); err != nil {
		return -EFAULT
	}
	return 0
}

func (h *LinuxSyscallHandler) clockGettime() int64 {
	ns := h.nowNs()
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:], ns/1e9)
	binary.LittleEndian.PutUint64(buf[8:], ns%1e9)
	if err := h.memory.Write(h.arg(1), buf); err != nil {
		return -EFAULT
	}
	return 0
}

func (h *LinuxSyscallHandler) getcwd() int64 {
	buf, size := h.arg(0), h.arg(1)
	data := append([]byte(h.cwd), 0)
	if uint64(len(data)) > size {
		return -ERANGE
	}
	if err := h.memory.Write(buf, data); err != nil {
		return -EFAULT
	}
	return int64(len(data))
}

func (h *LinuxSyscallHandler) ioctl() int64 {
	if !h.fds.IsOpen(h.arg(0)) {
		return -EBADF
	}
	if h.arg(1) == tcgets {
		return -ENOTTY
	}
	return -EINVAL
}

// getrandom fills the buffer from a fixed-seed xorshift generator so runs
// are reproducible.
func (h *LinuxSyscallHandler) getrandom() int64 {
	buf, length := h.arg(0), min(h.arg(1), maxGetrandom)

	chunk := make([]byte, min(length, ioChunk))
	for done := uint64(0); done < length; {
		data := chunk[:min(length-done, ioChunk)]
		for i := range data {
			h.randState ^= h.randState << 13
			h.randState ^= h.randState >> 7
			h.randState ^= h.randState << 17
			data[i] = byte(h.randState)
		}
		if err := h.memory.Write(buf+done, data); err != nil {
			if done == 0 {
				return -EFAULT
			}
			return int64(done)
		}
		done += uint64(len(data))
	}
	return int64(length)
}
