package raster

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestScratchReuse(t *testing.T) {
	l := layout{width: 8, height: 8, bands: 1, dt: UInt16, blockW: 4, blockH: 4, tiled: true}
	ds := openFile(t, NewEngine(), l.build(le, ramp, nil))
	sess := ds.engine.NewSession()

	first, err := ds.DecodeBlock(sess, 3)
	if err != nil {
		t.Fatal(err)
	}
	again, err := ds.DecodeBlock(sess, 3)
	if err != nil {
		t.Fatal(err)
	}
	if &first.Data[0] != &again.Data[0] {
		t.Fatal("repeated decode did not reuse the last block")
	}
	other, err := ds.DecodeBlock(sess, 0)
	if err != nil {
		t.Fatal(err)
	}
	if other.Index != 0 || UInt16.Value(other.Data) != ramp(0, 0, 0) {
		t.Fatalf("block 0 starts with %v", UInt16.Value(other.Data))
	}
}

func TestClosedDataset(t *testing.T) {
	l := layout{width: 4, height: 4, bands: 1, dt: Byte, blockW: 4, blockH: 4, tiled: true}
	e := NewEngine()
	ds := openFile(t, e, l.build(le, ramp, nil))
	sess := e.NewSession()
	if _, err := ds.DecodeBlock(sess, 0); err != nil {
		t.Fatal(err)
	}
	ds.Close()
	if !ds.Closed() {
		t.Fatal("Closed() = false after Close")
	}
	if _, err := ds.DecodeBlock(sess, 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("DecodeBlock after Close: %v", err)
	}
	if err := ds.ReadRegion(context.Background(), ReadRequest{Window: Window{Width: 1, Height: 1}}, make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("ReadRegion after Close: %v", err)
	}

	// A dataset reopened over the same directory must not see the scratch
	// state of the closed one.
	reopened, err := e.OpenImage(ds.Image(), WithNoData(9))
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	sc := sess.scratchFor(reopened)
	if sc.valid {
		t.Fatal("stale scratch state survived Close")
	}
	blk, err := reopened.DecodeBlock(sess, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := l.expected(Window{Width: 4, Height: 4}, []int{0}, ramp); !bytes.Equal(blk.Data, want) {
		t.Fatal("reopened dataset decoded wrong samples")
	}
	if sess.Len() != 1 {
		t.Fatalf("session holds %d scratch states, want 1", sess.Len())
	}
}

func TestSessionBound(t *testing.T) {
	l := layout{width: 4, height: 4, bands: 1, dt: Byte, blockW: 4, blockH: 4, tiled: true}
	e := NewEngine(WithSessionCacheSize(2))
	sess := e.NewSession()
	for range 5 {
		ds := openFile(t, e, l.build(le, ramp, nil))
		if _, err := ds.DecodeBlock(sess, 0); err != nil {
			t.Fatal(err)
		}
	}
	if sess.Len() > 2 {
		t.Fatalf("session holds %d scratch states, want at most 2", sess.Len())
	}
}
