package dalvik

import (
	"encoding/binary"
	"fmt"

	"github.com/vsoch/gobaksmali/parsers/dex"
)

// Payload is the data of a packed-switch, sparse-switch or
// fill-array-data payload. Switch targets are relative to the switch
// instruction that refers to the payload, not to the payload itself.
type Payload struct {
	// FirstKey is the key of the first packed-switch target.
	FirstKey int32
	// Keys of a sparse-switch, one per target.
	Keys    []int32
	Targets []int32

	ElementWidth uint16
	Data         []byte
}

// Len returns the number of switch targets or array elements.
func (p *Payload) Len() int {
	if p.ElementWidth != 0 {
		return len(p.Data) / int(p.ElementWidth)
	}
	return len(p.Targets)
}

// Element returns array element i, sign extended from its width.
func (p *Payload) Element(i int) int64 {
	w := int(p.ElementWidth)
	b := p.Data[i*w : (i+1)*w]
	switch w {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case 8:
		return int64(binary.LittleEndian.Uint64(b))
	}
	var v uint64
	for j := w - 1; j >= 0; j-- {
		v = v<<8 | uint64(b[j])
	}
	return int64(v)
}

func (d *decoder) payload(ins Instruction) (Instruction, error) {
	insns := d.code.Insns
	pos := ins.Offset
	rest := insns[pos:]
	if len(rest) < 2 {
		return d.truncated(ins, ins.Opcode.Name)
	}
	p := &Payload{}
	var size uint64
	switch ins.Opcode.Format {
	case FormatPackedSwitchPayload:
		n := uint64(rest[1])
		size = 4 + 2*n
		if size > uint64(len(rest)) {
			return d.truncated(ins, ins.Opcode.Name)
		}
		p.FirstKey = int32(u32(rest[2], rest[3]))
		for i := uint64(0); i < n; i++ {
			p.Targets = append(p.Targets, int32(u32(rest[4+2*i], rest[5+2*i])))
		}
	case FormatSparseSwitchPayload:
		n := uint64(rest[1])
		size = 2 + 4*n
		if size > uint64(len(rest)) {
			return d.truncated(ins, ins.Opcode.Name)
		}
		for i := uint64(0); i < n; i++ {
			p.Keys = append(p.Keys, int32(u32(rest[2+2*i], rest[3+2*i])))
		}
		for i := uint64(0); i < n; i++ {
			p.Targets = append(p.Targets, int32(u32(rest[2+2*n+2*i], rest[3+2*n+2*i])))
		}
	case FormatArrayPayload:
		if len(rest) < 4 {
			return d.truncated(ins, ins.Opcode.Name)
		}
		width := rest[1]
		count := uint64(u32(rest[2], rest[3]))
		switch width {
		case 1, 2, 4, 8:
		default:
			ins.Invalid = true
			return ins, &dex.MalformedContainerError{
				Reason: fmt.Sprintf("array payload at code offset %#x has element width %d", pos, width),
			}
		}
		nbytes := count * uint64(width)
		size = 4 + (nbytes+1)/2
		if size > uint64(len(rest)) {
			return d.truncated(ins, ins.Opcode.Name)
		}
		p.ElementWidth = width
		p.Data = make([]byte, nbytes)
		for i := uint64(0); i < nbytes; i++ {
			unit := rest[4+i/2]
			if i%2 == 0 {
				p.Data[i] = byte(unit)
			} else {
				p.Data[i] = byte(unit >> 8)
			}
		}
	}
	ins.Size = uint32(size)
	ins.Units = rest[:size]
	ins.Payload = p
	return ins, nil
}
