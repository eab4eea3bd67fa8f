// Copyright 2024-2026 Aiku AI

package archiver

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math"

	"maunium.net/go/mautrix/id"
)

// SenderColor returns the CSS colour of a sender. It depends only on the user
// ID, so a sender keeps the same colour across rooms and runs.
func SenderColor(sender id.UserID) string {
	sum := sha1.Sum([]byte(sender))
	hue := float64(binary.BigEndian.Uint16(sum[:2])) / 65535
	light := 0.55 + (float64(sum[2])/255-0.5)*0.25
	sat := 0.55 + (float64(sum[3])/255-0.5)*0.25
	r, g, b := hlsToRGB(hue, light, sat)
	return fmt.Sprintf("#%02x%02x%02x", int(r*255), int(g*255), int(b*255))
}

func hlsToRGB(h, l, s float64) (r, g, b float64) {
	if s == 0 {
		return l, l, l
	}
	var m2 float64
	if l <= 0.5 {
		m2 = l * (1 + s)
	} else {
		m2 = l + s - l*s
	}
	m1 := 2*l - m2
	return hueChannel(m1, m2, h+1.0/3), hueChannel(m1, m2, h), hueChannel(m1, m2, h-1.0/3)
}

func hueChannel(m1, m2, hue float64) float64 {
	hue -= math.Floor(hue)
	switch {
	case hue < 1.0/6:
		return m1 + (m2-m1)*hue*6
	case hue < 0.5:
		return m2
	case hue < 2.0/3:
		return m1 + (m2-m1)*(2.0/3-hue)*6
	default:
		return m1
	}
}
