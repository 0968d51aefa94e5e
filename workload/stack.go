package workload

import (
	"encoding/binary"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/loader"
)

// Auxiliary vector keys.
const (
	AtNull   = 0
	AtPhdr   = 3
	AtPhent  = 4
	AtPhnum  = 5
	AtPagesz = 6
	AtBase   = 7
	AtEntry  = 9
	AtUID    = 11
	AtEUID   = 12
	AtGID    = 13
	AtEGID   = 14
	AtHwcap  = 16
	AtClktck = 17
	AtRandom = 25
	AtExecfn = 31
)

// AuxEntry is one key/value pair of the auxiliary vector.
type AuxEntry struct {
	Key   uint64
	Value uint64
}

// randomBytes fills AT_RANDOM. The value is fixed so runs are reproducible.
var randomBytes = []byte{
	0x3a, 0x91, 0x5c, 0x07, 0xe4, 0x2b, 0x68, 0xd1,
	0x9f, 0x40, 0x16, 0xb3, 0x7d, 0xc8, 0x25, 0xee,
}

// BuildStack writes argc, argv, envp, the auxiliary vector and the strings
// they point to below the stack top, and returns the 16-byte aligned stack
// pointer addressing argc.
func BuildStack(m emu.Memory, prog *loader.Program, p *Process) (uint64, error) {
	top := prog.InitialSP

	// Strings and AT_RANDOM bytes sit at the very top.
	cursor := top
	push := func(data []byte) (uint64, error) {
		cursor -= uint64(len(data))
		return cursor, m.Write(cursor, data)
	}

	execfn, err := push(append([]byte(p.Executable), 0))
	if err != nil {
		return 0, err
	}

	envPtrs := make([]uint64, len(p.Env))
	for i := len(p.Env) - 1; i >= 0; i-- {
		if envPtrs[i], err = push(append([]byte(p.Env[i]), 0)); err != nil {
			return 0, err
		}
	}

	argPtrs := make([]uint64, len(p.Cmd))
	for i := len(p.Cmd) - 1; i >= 0; i-- {
		if argPtrs[i], err = push(append([]byte(p.Cmd[i]), 0)); err != nil {
			return 0, err
		}
	}

	cursor &^= 0xF
	random, err := push(randomBytes)
	if err != nil {
		return 0, err
	}

	aux := []AuxEntry{
		{AtPhdr, prog.PhdrAddr},
		{AtPhent, prog.PhdrEntSize},
		{AtPhnum, prog.PhdrNum},
		{AtPagesz, PageSize},
		{AtBase, 0},
		{AtEntry, prog.EntryPoint},
		{AtUID, p.Identity.UID},
		{AtEUID, p.Identity.EUID},
		{AtGID, p.Identity.GID},
		{AtEGID, p.Identity.EGID},
		{AtHwcap, 0},
		{AtClktck, 100},
		{AtRandom, random},
		{AtExecfn, execfn},
		{AtNull, 0},
	}

	words := 1 + len(argPtrs) + 1 + len(envPtrs) + 1 + 2*len(aux)
	sp := (cursor - uint64(words)*8) &^ 0xF

	buf := make([]byte, 0, words*8)
	put := func(v uint64) {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}

	put(uint64(len(argPtrs)))
	for _, a := range argPtrs {
		put(a)
	}
	put(0)
	for _, e := range envPtrs {
		put(e)
	}
	put(0)
	for _, a := range aux {
		put(a.Key)
		put(a.Value)
	}

	if err := m.Write(sp, buf); err != nil {
		return 0, err
	}

	return sp, nil
}
