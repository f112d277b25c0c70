// This file is part of dbgutil.
//
// dbgutil is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dbgutil is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with dbgutil.  If not, see <https://www.gnu.org/licenses/>.

package dwarf

import "github.com/oa-333/dbgutil-sub000/dbgerr"

// form is a DWARF attribute/content-type form code (DW_FORM_*). Every DWARF 5
// form code is named below and decoded by readForm; a code outside this set
// is rejected with NotImplemented.
type form uint64

const (
	formAddr        form = 0x01
	formBlock2      form = 0x03
	formBlock4      form = 0x04
	formData2       form = 0x05
	formData4       form = 0x06
	formData8       form = 0x07
	formString      form = 0x08
	formBlock       form = 0x09
	formBlock1      form = 0x0a
	formData1       form = 0x0b
	formFlag        form = 0x0c
	formSdata       form = 0x0d
	formStrp        form = 0x0e
	formUdata       form = 0x0f
	formRefAddr     form = 0x10
	formRef1        form = 0x11
	formRef2        form = 0x12
	formRef4        form = 0x13
	formRef8        form = 0x14
	formRefUdata    form = 0x15
	formIndirect    form = 0x16
	formSecOffset   form = 0x17
	formExprloc     form = 0x18
	formFlagPresent form = 0x19
	formStrx        form = 0x1a
	formAddrx       form = 0x1b
	formRefSup4     form = 0x1c
	formStrpSup     form = 0x1d
	formData16      form = 0x1e
	formLineStrp    form = 0x1f
	formRefSig8     form = 0x20
	formImplicitConst form = 0x21
	formLoclistx    form = 0x22
	formRnglistx    form = 0x23
	formRefSup8     form = 0x24
	formStrx1       form = 0x25
	formStrx2       form = 0x26
	formStrx3       form = 0x27
	formStrx4       form = 0x28
	formAddrx1      form = 0x29
	formAddrx2      form = 0x2a
	formAddrx3      form = 0x2b
	formAddrx4      form = 0x2c
)

// formValue is one decoded attribute value: u64 for addresses, constants,
// offsets and indices, i64 for signed constants, and str for string-shaped
// and block forms.
type formValue struct {
	u64 uint64
	i64 int64
	str string
}

// readForm reads one attribute value of the given form. unitIs64 selects the
// width of DW_FORM_sec_offset/strp/line_strp/ref_addr in 64-bit DWARF.
// addressSize is the CU's address size (4 or 8). implicitConst is returned
// for DW_FORM_implicit_const, whose operand lives in the abbreviation
// declaration itself, not the DIE.
func readForm(c *cursor, f form, sec Sections, unitIs64 bool, addressSize int, implicitConst int64) (formValue, error) {
	offSize := 4
	if unitIs64 {
		offSize = 8
	}
	readOffset := func() (uint64, error) {
		if offSize == 8 {
			return c.u64()
		}
		v, err := c.u32()
		return uint64(v), err
	}

	switch f {
	case formAddr:
		if addressSize == 8 {
			v, err := c.u64()
			return formValue{u64: v}, err
		}
		v, err := c.u32()
		return formValue{u64: uint64(v)}, err
	case formString:
		s, err := c.cstring()
		return formValue{str: s}, err
	case formStrp:
		off, err := readOffset()
		if err != nil {
			return formValue{}, err
		}
		s, err := stringAt(sec.Str, off)
		return formValue{str: s, u64: off}, err
	case formLineStrp:
		off, err := readOffset()
		if err != nil {
			return formValue{}, err
		}
		s, err := stringAt(sec.LineStr, off)
		return formValue{str: s, u64: off}, err
	case formSecOffset, formRefAddr, formStrpSup, formRefSup4:
		v, err := readOffset()
		return formValue{u64: v}, err
	case formData1, formRef1, formFlag:
		v, err := c.u8()
		return formValue{u64: uint64(v)}, err
	case formData2, formRef2:
		v, err := c.u16()
		return formValue{u64: uint64(v)}, err
	case formData4, formRef4:
		v, err := c.u32()
		return formValue{u64: uint64(v)}, err
	case formData8, formRef8, formRefSig8, formRefSup8:
		v, err := c.u64()
		return formValue{u64: v}, err
	case formData16:
		b, err := c.bytes(16)
		if err != nil {
			return formValue{}, err
		}
		return formValue{str: string(b)}, nil
	case formSdata:
		v, err := c.sleb()
		return formValue{i64: v, u64: uint64(v)}, err
	case formUdata, formRefUdata, formStrx, formAddrx, formLoclistx, formRnglistx:
		v, err := c.uleb()
		return formValue{u64: v}, err
	case formStrx1, formAddrx1:
		v, err := c.u8()
		return formValue{u64: uint64(v)}, err
	case formStrx2, formAddrx2:
		v, err := c.u16()
		return formValue{u64: uint64(v)}, err
	case formStrx3, formAddrx3:
		b, err := c.bytes(3)
		if err != nil {
			return formValue{}, err
		}
		return formValue{u64: uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16}, nil
	case formStrx4, formAddrx4:
		v, err := c.u32()
		return formValue{u64: uint64(v)}, err
	case formFlagPresent:
		return formValue{u64: 1}, nil
	case formImplicitConst:
		return formValue{i64: implicitConst, u64: uint64(implicitConst)}, nil
	case formBlock1:
		n, err := c.u8()
		if err != nil {
			return formValue{}, err
		}
		b, err := c.bytes(int(n))
		return formValue{str: string(b)}, err
	case formBlock2:
		n, err := c.u16()
		if err != nil {
			return formValue{}, err
		}
		b, err := c.bytes(int(n))
		return formValue{str: string(b)}, err
	case formBlock4:
		n, err := c.u32()
		if err != nil {
			return formValue{}, err
		}
		b, err := c.bytes(int(n))
		return formValue{str: string(b)}, err
	case formBlock, formExprloc:
		n, err := c.uleb()
		if err != nil {
			return formValue{}, err
		}
		b, err := c.bytes(int(n))
		return formValue{str: string(b)}, err
	case formIndirect:
		actual, err := c.uleb()
		if err != nil {
			return formValue{}, err
		}
		return readForm(c, form(actual), sec, unitIs64, addressSize, implicitConst)
	default:
		return formValue{}, dbgerr.Errorf(dbgerr.NotImplemented, "unsupported DWARF form 0x%x", uint64(f))
	}
}
