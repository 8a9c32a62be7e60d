package svf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/integrator"
	"github.com/fieldreg/diffeo/lattice"
)

// Binary file format: the magic "SVFD" and a uint32 version, followed by
// the lattice geometry, the coefficient vectors, and the configuration
// fields the version carries. All values are little-endian. Writers emit
// the current version; readers accept every version since v1.
const (
	formatMagic    = "SVFD"
	formatVersion1 = 1
	formatVersion2 = 2
	formatVersion3 = 3
	formatVersion4 = 4
	formatVersion5 = 5
	formatVersion6 = 6

	// FormatVersion is the version written by Write.
	FormatVersion = formatVersion6
)

type binWriter struct {
	w   io.Writer
	err error
}

func (b *binWriter) write(v interface{}) {
	if b.err == nil {
		b.err = binary.Write(b.w, binary.LittleEndian, v)
	}
}

type binReader struct {
	r   io.Reader
	err error
}

func (b *binReader) read(v interface{}) {
	if b.err == nil {
		b.err = binary.Read(b.r, binary.LittleEndian, v)
	}
}

// Write serializes the transform in the current format version.
func (t *Transform) Write(w io.Writer) error {
	bw := &binWriter{w: w}
	bw.write([]byte(formatMagic))
	bw.write(uint32(FormatVersion))
	writeLattice(bw, t.Lattice)
	bw.write(int32(t.NumberOfSteps))
	bw.write(t.T)
	bw.write(int32(t.BCHTerms))
	bw.write(t.TimeUnit)
	bw.write(uint32(t.Method))
	bw.write(t.MaxScaledVelocity)
	if bw.err != nil {
		return fmt.Errorf("svf: write: %w", bw.err)
	}
	return nil
}

// Read deserializes a transform written by any format version. Fields a
// legacy version does not carry keep their constructor defaults; the v4/v5
// scaling-and-squaring booleans are mapped onto the method enum.
func Read(r io.Reader) (*Transform, error) {
	br := &binReader{r: r}
	magic := make([]byte, len(formatMagic))
	br.read(magic)
	if br.err == nil && string(magic) != formatMagic {
		return nil, fmt.Errorf("svf: read: bad magic %q", magic)
	}
	var version uint32
	br.read(&version)
	if br.err == nil && (version < formatVersion1 || version > formatVersion6) {
		return nil, fmt.Errorf("svf: read: unsupported format version %d", version)
	}

	l := readLattice(br)
	if br.err != nil {
		return nil, fmt.Errorf("svf: read: %w", br.err)
	}
	t, err := New(l.Attr)
	if err != nil {
		return nil, err
	}
	t.Lattice = l

	var steps int32
	br.read(&steps)
	t.NumberOfSteps = int(steps)

	if version >= formatVersion2 {
		br.read(&t.T)
		var terms int32
		br.read(&terms)
		t.BCHTerms = int(terms)
	}
	if version >= formatVersion3 {
		br.read(&t.TimeUnit)
	}
	switch {
	case version == formatVersion4 || version == formatVersion5:
		var useSS, fastSS byte
		br.read(&useSS)
		br.read(&t.MaxScaledVelocity)
		if version == formatVersion5 {
			br.read(&fastSS)
		}
		switch {
		case useSS != 0 && fastSS != 0:
			t.Method = integrator.FastSS
		case useSS != 0:
			t.Method = integrator.SS
		default:
			t.Method = integrator.RKE1
		}
	case version >= formatVersion6:
		var m uint32
		br.read(&m)
		if br.err == nil && (m <= uint32(integrator.Unknown) || m > uint32(integrator.RKDP45)) {
			return nil, fmt.Errorf("svf: read: invalid integration method %d", m)
		}
		t.Method = integrator.Method(m)
		br.read(&t.MaxScaledVelocity)
	}

	if br.err != nil {
		return nil, fmt.Errorf("svf: read: %w", br.err)
	}
	return t, nil
}

func writeLattice(bw *binWriter, l *lattice.Lattice) {
	a := l.Attr
	bw.write(int32(a.NX))
	bw.write(int32(a.NY))
	bw.write(int32(a.NZ))
	bw.write(a.DX)
	bw.write(a.DY)
	bw.write(a.DZ)
	bw.write(a.OX)
	bw.write(a.OY)
	bw.write(a.OZ)
	bw.write(a.XAxis)
	bw.write(a.YAxis)
	bw.write(a.ZAxis)
	bw.write(l.Coeff.Vec)
}

func readLattice(br *binReader) *lattice.Lattice {
	var nx, ny, nz int32
	var a field.Attributes
	br.read(&nx)
	br.read(&ny)
	br.read(&nz)
	br.read(&a.DX)
	br.read(&a.DY)
	br.read(&a.DZ)
	br.read(&a.OX)
	br.read(&a.OY)
	br.read(&a.OZ)
	br.read(&a.XAxis)
	br.read(&a.YAxis)
	br.read(&a.ZAxis)
	a.NX, a.NY, a.NZ = int(nx), int(ny), int(nz)
	if br.err != nil {
		return &lattice.Lattice{}
	}
	if err := a.Validate(); err != nil {
		br.err = err
		return &lattice.Lattice{}
	}
	coeff := field.NewVectorField(a)
	br.read(coeff.Vec)
	return &lattice.Lattice{Attr: a, Coeff: coeff}
}
