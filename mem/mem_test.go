package mem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sesim/mem"
)

var _ = Describe("AddrRange", func() {
	It("should be half-open", func() {
		r := mem.NewAddrRange(4096)
		Expect(r.Size()).To(Equal(uint64(4096)))
		Expect(r.Contains(0)).To(BeTrue())
		Expect(r.Contains(4095)).To(BeTrue())
		Expect(r.Contains(4096)).To(BeFalse())
	})

	It("should check spans", func() {
		r := mem.AddrRange{Start: 0x1000, End: 0x2000}
		Expect(r.ContainsSpan(0x1ff8, 8)).To(BeTrue())
		Expect(r.ContainsSpan(0x1ffc, 8)).To(BeFalse())
		Expect(r.ContainsSpan(0xfff, 2)).To(BeFalse())
	})

	It("should detect intersections", func() {
		a := mem.AddrRange{Start: 0, End: 0x100}
		Expect(a.Intersects(mem.AddrRange{Start: 0xff, End: 0x200})).To(BeTrue())
		Expect(a.Intersects(mem.AddrRange{Start: 0x100, End: 0x200})).To(BeFalse())
		Expect(a.String()).To(Equal("[0x0:0x100]"))
	})
})

var _ = Describe("PhysicalMemory", func() {
	var m *mem.PhysicalMemory

	BeforeEach(func() {
		m = mem.NewPhysicalMemory(mem.NewAddrRange(1 << 20))
	})

	It("should read back written data", func() {
		Expect(m.Write(0x100, []byte{1, 2, 3, 4})).To(Succeed())

		data, err := m.Read(0x100, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should reject accesses outside the range", func() {
		_, err := m.Read(1<<20, 1)
		Expect(err).To(MatchError(mem.ErrOutOfRange))

		err = m.Write((1<<20)-2, []byte{1, 2, 3})
		Expect(err).To(MatchError(mem.ErrOutOfRange))
	})

	It("should zero memory", func() {
		Expect(m.Write(0x10, []byte{9, 9})).To(Succeed())
		Expect(m.Zero(0x10, 2)).To(Succeed())

		data, err := m.Read(0x10, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{0, 0}))
	})
})

var _ = Describe("Packet", func() {
	It("should align to a block", func() {
		p := &mem.Packet{Cmd: mem.CmdRead, Addr: 0x1234, Size: 8}
		Expect(p.BlockAddr(64)).To(Equal(uint64(0x1200)))
		Expect(p.Cmd.IsRead()).To(BeTrue())
		Expect(mem.CmdWriteback.IsRead()).To(BeFalse())
		Expect(p.String()).To(Equal("ReadReq 0x1234 (8B)"))
	})
})
