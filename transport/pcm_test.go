package transport

import (
	"encoding/binary"
	"testing"

	"github.com/djdv/go-streamsynth/render"
)

func TestPCMReader(t *testing.T) {
	t.Parallel()
	r, err := newRing(16, 4)
	if err != nil {
		t.Fatal(err)
	}
	r.Write([]render.Frame{{L: 1, R: -1}, {L: 0x1234, R: -0x1234}})
	var (
		reader = &pcmReader{ring: r}
		buf    = make([]byte, 4*bytesPerFrame)
	)
	n, err := reader.Read(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("read\n\tgot: %d %v\n\twant: %d <nil>", n, err, len(buf))
	}
	want := []int16{1, -1, 0x1234, -0x1234, 0, 0, 0, 0}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(buf[i*2:])); got != w {
			t.Fatalf("sample %d\n\tgot: %d\n\twant: %d", i, got, w)
		}
	}
	if r.Underruns() != 1 {
		t.Fatalf("short ring not counted as an underrun")
	}
}
