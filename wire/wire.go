// Package wire encodes and decodes compiled Programs to and from the
// versioned binary format, and validates a decoded Program against a
// host-function table.
//
// Layout (spec.md §4.1's, plus a function table between imports and code):
// magic(4) version(u16 LE) constants imports functions code debug?, with every integer little-endian and every sequence length-prefixed
// as a u32. Grounded on the teacher's encoding/binary idiom in
// gvm/compile.go and gvm/vm.go.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"edgevm/bytecode"
	"edgevm/debuginfo"
	"edgevm/value"
)

// Magic is the 4-byte tag at the start of every encoded Program.
var Magic = [4]byte{'E', 'V', 'M', '1'}

// Version is the only wire format version this package encodes and decodes.
const Version uint16 = 1

// Program is the fully decoded unit the wire format carries.
type Program struct {
	Constants []value.Value
	Imports   []bytecode.HostImport
	Functions []bytecode.FunctionEntry
	Code      []byte
	Debug     *debuginfo.DebugInfo
}

// FunctionArities derives the functionArities map Validate expects from
// p.Functions.
func (p *Program) FunctionArities() map[uint16]uint8 {
	if len(p.Functions) == 0 {
		return nil
	}
	out := make(map[uint16]uint8, len(p.Functions))
	for _, fn := range p.Functions {
		out[fn.Index] = fn.Arity
	}
	return out
}

// FunctionEntryOffset looks up the code offset a Call to idx should jump to,
// for idx in the defined-function range.
func (p *Program) FunctionEntryOffset(idx uint16) (uint32, bool) {
	for _, fn := range p.Functions {
		if fn.Index == idx {
			return fn.EntryOffset, true
		}
	}
	return 0, false
}

// ErrUnsupportedVersion is returned when the decoded version field does not
// match Version.
var ErrUnsupportedVersion = errors.New("wire: unsupported version")

// ErrUnexpectedEOF is returned when the byte stream truncates mid-structure.
var ErrUnexpectedEOF = errors.New("wire: unexpected end of input")

// ErrBadMagic is returned when the leading 4 bytes don't match Magic.
var ErrBadMagic = errors.New("wire: bad magic")

const (
	tagNull byte = iota
	tagInt
	tagFloat
	tagBool
	tagString
	tagArray
	tagMap
)

// Encode serializes p to the binary wire format.
func Encode(p *Program) []byte {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	writeU16(&buf, Version)

	writeU32(&buf, uint32(len(p.Constants)))
	for _, c := range p.Constants {
		encodeValue(&buf, c)
	}

	writeU32(&buf, uint32(len(p.Imports)))
	for _, imp := range p.Imports {
		writeString(&buf, imp.Name)
		buf.WriteByte(imp.Arity)
	}

	writeU32(&buf, uint32(len(p.Functions)))
	for _, fn := range p.Functions {
		writeString(&buf, fn.Name)
		writeU16(&buf, fn.Index)
		buf.WriteByte(fn.Arity)
		writeU32(&buf, fn.EntryOffset)
	}

	writeU32(&buf, uint32(len(p.Code)))
	buf.Write(p.Code)

	if p.Debug != nil {
		buf.WriteByte(1)
		encodeDebug(&buf, p.Debug)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v value.Value) {
	switch v.Kind {
	case value.KindNull:
		buf.WriteByte(tagNull)
	case value.KindInt:
		buf.WriteByte(tagInt)
		writeU64(buf, uint64(v.I))
	case value.KindFloat:
		buf.WriteByte(tagFloat)
		writeU64(buf, float64bits(v.F))
	case value.KindBool:
		buf.WriteByte(tagBool)
		if v.B {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.KindString:
		buf.WriteByte(tagString)
		writeString(buf, v.Str)
	case value.KindArray:
		buf.WriteByte(tagArray)
		writeU32(buf, uint32(len(v.Arr)))
		for _, item := range v.Arr {
			encodeValue(buf, item)
		}
	case value.KindMap:
		buf.WriteByte(tagMap)
		writeU32(buf, uint32(len(v.Map)))
		for _, pair := range v.Map {
			encodeValue(buf, pair.Key)
			encodeValue(buf, pair.Value)
		}
	}
}

func encodeDebug(buf *bytes.Buffer, d *debuginfo.DebugInfo) {
	if d.HasSource {
		buf.WriteByte(1)
		writeString(buf, d.Source)
	} else {
		buf.WriteByte(0)
	}

	writeU32(buf, uint32(len(d.Lines)))
	for _, l := range d.Lines {
		writeU32(buf, l.Offset)
		writeU32(buf, l.Line)
	}

	writeU32(buf, uint32(len(d.Functions)))
	for _, fn := range d.Functions {
		writeString(buf, fn.Name)
		writeU32(buf, uint32(len(fn.Args)))
		for _, a := range fn.Args {
			writeString(buf, a.Name)
			buf.WriteByte(a.Position)
		}
	}

	writeU32(buf, uint32(len(d.Locals)))
	for _, l := range d.Locals {
		writeString(buf, l.Name)
		buf.WriteByte(l.Index)
	}
}

// Decode parses the binary wire format, returning ErrBadMagic,
// ErrUnsupportedVersion, or ErrUnexpectedEOF on malformed input.
func Decode(data []byte) (*Program, error) {
	r := &reader{buf: data}

	var magic [4]byte
	if !r.readBytes(magic[:]) {
		return nil, ErrUnexpectedEOF
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}

	version, ok := r.readU16()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	if version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	constCount, ok := r.readU32()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	constants := make([]value.Value, constCount)
	for i := range constants {
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		constants[i] = v
	}

	impCount, ok := r.readU32()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	imports := make([]bytecode.HostImport, impCount)
	for i := range imports {
		name, ok := r.readString()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		arity, ok := r.readByte()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		imports[i] = bytecode.HostImport{Name: name, Arity: arity}
	}

	fnCount, ok := r.readU32()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	functions := make([]bytecode.FunctionEntry, fnCount)
	for i := range functions {
		name, ok := r.readString()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		index, ok := r.readU16()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		arity, ok := r.readByte()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		entry, ok := r.readU32()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		functions[i] = bytecode.FunctionEntry{Name: name, Index: index, Arity: arity, EntryOffset: entry}
	}

	codeLen, ok := r.readU32()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	code := make([]byte, codeLen)
	if !r.readBytes(code) {
		return nil, ErrUnexpectedEOF
	}

	present, ok := r.readByte()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	var debug *debuginfo.DebugInfo
	if present != 0 {
		d, err := decodeDebug(r)
		if err != nil {
			return nil, err
		}
		debug = d
	}

	return &Program{Constants: constants, Imports: imports, Functions: functions, Code: code, Debug: debug}, nil
}

func decodeValue(r *reader) (value.Value, error) {
	tag, ok := r.readByte()
	if !ok {
		return value.Value{}, ErrUnexpectedEOF
	}
	switch tag {
	case tagNull:
		return value.Null(), nil
	case tagInt:
		u, ok := r.readU64()
		if !ok {
			return value.Value{}, ErrUnexpectedEOF
		}
		return value.Int(int64(u)), nil
	case tagFloat:
		u, ok := r.readU64()
		if !ok {
			return value.Value{}, ErrUnexpectedEOF
		}
		return value.Float(float64frombits(u)), nil
	case tagBool:
		b, ok := r.readByte()
		if !ok {
			return value.Value{}, ErrUnexpectedEOF
		}
		return value.Bool(b != 0), nil
	case tagString:
		s, ok := r.readString()
		if !ok {
			return value.Value{}, ErrUnexpectedEOF
		}
		return value.String(s), nil
	case tagArray:
		n, ok := r.readU32()
		if !ok {
			return value.Value{}, ErrUnexpectedEOF
		}
		items := make([]value.Value, n)
		for i := range items {
			v, err := decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = v
		}
		return value.Array(items), nil
	case tagMap:
		n, ok := r.readU32()
		if !ok {
			return value.Value{}, ErrUnexpectedEOF
		}
		pairs := make([]value.Pair, n)
		for i := range pairs {
			k, err := decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
			v, err := decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
			pairs[i] = value.Pair{Key: k, Value: v}
		}
		return value.Map(pairs), nil
	default:
		return value.Value{}, fmt.Errorf("wire: unknown value tag %d", tag)
	}
}

func decodeDebug(r *reader) (*debuginfo.DebugInfo, error) {
	hasSource, ok := r.readByte()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	d := &debuginfo.DebugInfo{}
	if hasSource != 0 {
		source, ok := r.readString()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		d.Source = source
		d.HasSource = true
	}

	lineCount, ok := r.readU32()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	d.Lines = make([]debuginfo.Line, lineCount)
	for i := range d.Lines {
		offset, ok := r.readU32()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		line, ok := r.readU32()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		d.Lines[i] = debuginfo.Line{Offset: offset, Line: line}
	}

	fnCount, ok := r.readU32()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	d.Functions = make([]debuginfo.Function, fnCount)
	for i := range d.Functions {
		name, ok := r.readString()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		argCount, ok := r.readU32()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		args := make([]debuginfo.ArgInfo, argCount)
		for j := range args {
			argName, ok := r.readString()
			if !ok {
				return nil, ErrUnexpectedEOF
			}
			pos, ok := r.readByte()
			if !ok {
				return nil, ErrUnexpectedEOF
			}
			args[j] = debuginfo.ArgInfo{Name: argName, Position: pos}
		}
		d.Functions[i] = debuginfo.Function{Name: name, Args: args}
	}

	localCount, ok := r.readU32()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	d.Locals = make([]debuginfo.Local, localCount)
	for i := range d.Locals {
		name, ok := r.readString()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		idx, ok := r.readByte()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		d.Locals[i] = debuginfo.Local{Name: name, Index: idx}
	}

	return d, nil
}

// --- little-endian primitives ---

type reader struct {
	buf []byte
	pos int
}

func (r *reader) readByte() (byte, bool) {
	if r.pos >= len(r.buf) {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *reader) readBytes(dst []byte) bool {
	if r.pos+len(dst) > len(r.buf) {
		return false
	}
	copy(dst, r.buf[r.pos:r.pos+len(dst)])
	r.pos += len(dst)
	return true
}

func (r *reader) readU16() (uint16, bool) {
	if r.pos+2 > len(r.buf) {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, true
}

func (r *reader) readU32() (uint32, bool) {
	if r.pos+4 > len(r.buf) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, true
}

func (r *reader) readU64() (uint64, bool) {
	if r.pos+8 > len(r.buf) {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, true
}

func (r *reader) readString() (string, bool) {
	n, ok := r.readU32()
	if !ok {
		return "", false
	}
	if r.pos+int(n) > len(r.buf) {
		return "", false
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, true
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func float64bits(f float64) uint64     { return math.Float64bits(f) }
func float64frombits(u uint64) float64 { return math.Float64frombits(u) }
