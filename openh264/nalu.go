package openh264

import (
	"fmt"
	"strings"
)

// describeNALUs scans an Annex-B H.264 byte stream and summarises the NAL
// unit types it contains, for debug logging. Grounded on the teacher's
// describeH264NALUs (session_stream.go), used there for the same purpose
// against its WebRTC encoder's packet stream.
func describeNALUs(data []byte) string {
	types := make(map[string]int)
	for i := 0; i < len(data)-4; {
		startLen := 0
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				startLen = 3
			} else if data[i+2] == 0 && i+3 < len(data) && data[i+3] == 1 {
				startLen = 4
			}
		}
		if startLen == 0 {
			i++
			continue
		}
		naluType := data[i+startLen] & 0x1f
		name := fmt.Sprintf("type%d", naluType)
		switch naluType {
		case 7:
			name = "SPS"
		case 8:
			name = "PPS"
		case 5:
			name = "IDR"
		case 1:
			name = "non-IDR"
		case 6:
			name = "SEI"
		case 9:
			name = "AUD"
		}
		types[name]++
		i += startLen + 1
	}
	parts := make([]string, 0, len(types))
	for t, c := range types {
		parts = append(parts, fmt.Sprintf("%s:%d", t, c))
	}
	return strings.Join(parts, " ")
}
