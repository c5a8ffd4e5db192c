package frame

import "strconv"

// Append appends the wire form of f, terminated by CRLF, to dst.
func Append(dst []byte, f *SensorFrame) []byte {
	dst = append(dst, markerPrimary...)
	dst = strconv.AppendInt(dst, int64(f.Primary), 10)
	dst = append(dst, markerSecondary...)
	dst = strconv.AppendInt(dst, int64(f.Secondary), 10)
	dst = append(dst, markerProfile...)
	for i, v := range f.Profile {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendInt(dst, int64(v), 10)
	}
	return append(dst, '\r', '\n')
}
