package svf

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/fieldreg/diffeo/integrator"
)

func TestWriteReadRoundTrip(t *testing.T) {
	tr := makeTestTransform(t)
	tr.T = 2.5
	tr.TimeUnit = 0.5
	tr.NumberOfSteps = 48
	tr.BCHTerms = 3
	tr.Method = integrator.RKCK45
	tr.MaxScaledVelocity = 0.33

	var buf bytes.Buffer
	if err := tr.Write(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if !got.Lattice.Attr.Equal(tr.Lattice.Attr) {
		t.Error("lattice attributes differ")
	}
	for i := range tr.Lattice.Coeff.Vec {
		if got.Lattice.Coeff.Vec[i] != tr.Lattice.Coeff.Vec[i] {
			t.Fatalf("coefficient %d differs", i)
		}
	}
	if got.T != tr.T || got.TimeUnit != tr.TimeUnit || got.NumberOfSteps != tr.NumberOfSteps {
		t.Errorf("time settings differ: %+v", got)
	}
	if got.BCHTerms != tr.BCHTerms || got.Method != tr.Method || got.MaxScaledVelocity != tr.MaxScaledVelocity {
		t.Errorf("configuration differs: %+v", got)
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("XXXX\x06\x00\x00\x00"))); err == nil {
		t.Error("bad magic accepted")
	}
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(formatMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(99))
	if _, err := Read(&buf); err == nil {
		t.Error("unknown version accepted")
	}
}

func TestReadTruncatedFile(t *testing.T) {
	tr := makeTestTransform(t)
	var buf bytes.Buffer
	if err := tr.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(bytes.NewReader(buf.Bytes()[:buf.Len()/2])); err == nil {
		t.Error("truncated file accepted")
	}
}

// a legacy v5 file produces the same forward transform as a v6 file with
// the equivalent configuration
func TestLegacyV5Equivalence(t *testing.T) {
	tr := makeTestTransform(t)
	tr.T = 1
	tr.TimeUnit = 1
	tr.NumberOfSteps = 64
	tr.BCHTerms = 4
	tr.Method = integrator.FastSS
	tr.MaxScaledVelocity = 0.8

	// hand-assemble the v5 layout: lattice, steps, T, BCH terms, time unit,
	// useSS byte, max scaled velocity, fastSS byte
	var buf bytes.Buffer
	buf.WriteString(formatMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(formatVersion5))
	a := tr.Lattice.Attr
	binary.Write(&buf, binary.LittleEndian, int32(a.NX))
	binary.Write(&buf, binary.LittleEndian, int32(a.NY))
	binary.Write(&buf, binary.LittleEndian, int32(a.NZ))
	binary.Write(&buf, binary.LittleEndian, a.DX)
	binary.Write(&buf, binary.LittleEndian, a.DY)
	binary.Write(&buf, binary.LittleEndian, a.DZ)
	binary.Write(&buf, binary.LittleEndian, a.OX)
	binary.Write(&buf, binary.LittleEndian, a.OY)
	binary.Write(&buf, binary.LittleEndian, a.OZ)
	binary.Write(&buf, binary.LittleEndian, a.XAxis)
	binary.Write(&buf, binary.LittleEndian, a.YAxis)
	binary.Write(&buf, binary.LittleEndian, a.ZAxis)
	binary.Write(&buf, binary.LittleEndian, tr.Lattice.Coeff.Vec)
	binary.Write(&buf, binary.LittleEndian, int32(tr.NumberOfSteps))
	binary.Write(&buf, binary.LittleEndian, tr.T)
	binary.Write(&buf, binary.LittleEndian, int32(tr.BCHTerms))
	binary.Write(&buf, binary.LittleEndian, tr.TimeUnit)
	binary.Write(&buf, binary.LittleEndian, byte(1)) // use scaling and squaring
	binary.Write(&buf, binary.LittleEndian, tr.MaxScaledVelocity)
	binary.Write(&buf, binary.LittleEndian, byte(1)) // fast variant

	legacy, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if legacy.Method != integrator.FastSS {
		t.Fatalf("legacy method: got %v", legacy.Method)
	}

	var v6 bytes.Buffer
	if err := tr.Write(&v6); err != nil {
		t.Fatal(err)
	}
	current, err := Read(&v6)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range [][3]float64{{0, 0, 0}, {1.5, -2, 0.5}, {-3, 1, 2}} {
		lx, ly, lz := legacy.Apply(p[0], p[1], p[2], 1, 0)
		cx, cy, cz := current.Apply(p[0], p[1], p[2], 1, 0)
		if math.Abs(lx-cx)+math.Abs(ly-cy)+math.Abs(lz-cz) > 0 {
			t.Errorf("probe %v: legacy (%g,%g,%g) vs current (%g,%g,%g)", p, lx, ly, lz, cx, cy, cz)
		}
	}
}
