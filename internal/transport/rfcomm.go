package transport

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// RFCOMMAddr is a Bluetooth device address plus RFCOMM channel.
type RFCOMMAddr struct {
	// BDAddr is big-endian, as printed (00:11:22:33:44:55 -> {0x00,...,0x55}).
	BDAddr  [6]byte
	Channel uint8
}

func (a RFCOMMAddr) String() string {
	parts := make([]string, 6)
	for i, b := range a.BDAddr {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":") + ":" + strconv.Itoa(int(a.Channel))
}

// ParseRFCOMMAddr accepts "00:11:22:33:44:55:12" or the compact "001122334455:12".
func ParseRFCOMMAddr(s string) (RFCOMMAddr, error) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return RFCOMMAddr{}, fmt.Errorf("transport: rfcomm address %q missing channel", s)
	}
	ch, err := strconv.Atoi(s[idx+1:])
	if err != nil || ch < 1 || ch > 30 {
		return RFCOMMAddr{}, fmt.Errorf("transport: rfcomm address %q has invalid channel", s)
	}
	raw := strings.ReplaceAll(s[:idx], ":", "")
	if len(raw) != 12 {
		return RFCOMMAddr{}, fmt.Errorf("transport: rfcomm address %q has invalid bdaddr", s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return RFCOMMAddr{}, fmt.Errorf("transport: rfcomm address %q: %w", s, err)
	}
	var out RFCOMMAddr
	copy(out.BDAddr[:], b)
	out.Channel = uint8(ch)
	return out, nil
}
