package tape_test

import (
	"bytes"
	"testing"

	"github.com/greybus-run/greybus/tape"
)

func TestRecordAndReplayRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := tape.NewRecorder(&buf)

	frames := []struct {
		cport uint16
		data  []byte
	}{
		{cport: 0, data: []byte{0x08, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{cport: 2, data: []byte{0x09, 0x00, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00, 0xAB}},
	}

	for _, f := range frames {
		if err := rec.Write(f.cport, f.data); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	var replayed []struct {
		cport uint16
		data  []byte
	}
	err := tape.Replay(&buf, func(cport uint16, frame []byte) error {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		replayed = append(replayed, struct {
			cport uint16
			data  []byte
		}{cport, cp})
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(replayed) != len(frames) {
		t.Fatalf("replayed %d records, want %d", len(replayed), len(frames))
	}
	for i, f := range frames {
		if replayed[i].cport != f.cport || !bytes.Equal(replayed[i].data, f.data) {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, replayed[i], f)
		}
	}
}

func TestReplayEmptyIsNoop(t *testing.T) {
	called := false
	if err := tape.Replay(&bytes.Buffer{}, func(uint16, []byte) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if called {
		t.Fatalf("inject should not be called for an empty tape")
	}
}
