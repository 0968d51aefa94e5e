package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sarchlab/akita/v4/sim"
)

var sizeUnits = []struct {
	suffix string
	scale  uint64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"kb", 1 << 10},
	{"mb", 1 << 20},
	{"gb", 1 << 30},
	{"b", 1},
}

// ParseSize parses a memory size such as "512MB" or "16kB". Decimal and
// binary prefixes both denote powers of 1024.
func ParseSize(s string) (uint64, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	scale := uint64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(t, u.suffix) {
			t = strings.TrimSpace(strings.TrimSuffix(t, u.suffix))
			scale = u.scale
			break
		}
	}

	n, err := strconv.ParseUint(t, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > math.MaxUint64/scale {
		return 0, fmt.Errorf("size %q overflows 64 bits", s)
	}
	return n * scale, nil
}

var freqUnits = []struct {
	suffix string
	scale  sim.Freq
}{
	{"ghz", sim.GHz},
	{"mhz", sim.MHz},
	{"khz", sim.KHz},
	{"hz", sim.Hz},
}

// ParseFrequency parses a frequency such as "1GHz" or "2.5GHz".
func ParseFrequency(s string) (sim.Freq, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	for _, u := range freqUnits {
		if !strings.HasSuffix(t, u.suffix) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(t, u.suffix)), 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid frequency %q", s)
		}
		return sim.Freq(v) * u.scale, nil
	}
	return 0, fmt.Errorf("invalid frequency %q (want Hz, kHz, MHz or GHz)", s)
}
