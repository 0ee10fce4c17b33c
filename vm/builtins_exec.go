package vm

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"regexp"
	"unicode/utf8"

	"edgevm/builtins"
	"edgevm/value"
)

// ioHandle is one open file or subprocess pipe, referenced from program code
// by an opaque Int handle (the index into vm.ioHandles); no Value variant
// carries a live *os.File directly, matching value.Value's data model
// having only Null/Int/Float/Bool/String/Array/Map members.
type ioHandle struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	cmd    *exec.Cmd
}

func (vm *VM) newHandle(h *ioHandle) value.Value {
	if vm.ioHandles == nil {
		vm.ioHandles = map[int64]*ioHandle{}
	}
	id := vm.nextHandle
	vm.nextHandle++
	vm.ioHandles[id] = h
	return value.Int(id)
}

func (vm *VM) handle(v value.Value) (*ioHandle, bool) {
	if v.Kind != value.KindInt {
		return nil, false
	}
	h, ok := vm.ioHandles[v.I]
	return h, ok
}

// callBuiltin executes one of the fixed-arity VM built-ins against the
// already-validated arity operands on the stack. Semantics not pinned down
// by spec.md §4.4/§6 (container indexing out-of-range behavior, `count`
// vs `len`, regex replace-all vs first-match) are decided here and recorded
// in DESIGN.md rather than left ambiguous.
func (vm *VM) callBuiltin(fn builtins.Function, arity uint8) *VmError {
	args, err := vm.popArgs(arity)
	if err != nil {
		return err
	}
	switch fn {
	case builtins.Len:
		return vm.builtinLen(args[0])
	case builtins.Slice:
		return vm.builtinSlice(args[0], args[1], args[2])
	case builtins.Concat:
		return vm.builtinConcat(args[0], args[1])
	case builtins.ArrayNew:
		vm.push(value.Array(nil))
	case builtins.ArrayPush:
		return vm.builtinArrayPush(args[0], args[1])
	case builtins.MapNew:
		vm.push(value.Map(nil))
	case builtins.Get:
		return vm.builtinGet(args[0], args[1])
	case builtins.Set:
		return vm.builtinSet(args[0], args[1], args[2])
	case builtins.Keys:
		return vm.builtinKeys(args[0])
	case builtins.IoOpen:
		return vm.builtinIoOpen(args[0], args[1])
	case builtins.IoPopen:
		return vm.builtinIoPopen(args[0], args[1])
	case builtins.IoReadAll:
		return vm.builtinIoReadAll(args[0])
	case builtins.IoReadLine:
		return vm.builtinIoReadLine(args[0])
	case builtins.IoWrite:
		return vm.builtinIoWrite(args[0], args[1])
	case builtins.IoFlush:
		return vm.builtinIoFlush(args[0])
	case builtins.IoClose:
		return vm.builtinIoClose(args[0])
	case builtins.IoExists:
		return vm.builtinIoExists(args[0])
	case builtins.Count:
		return vm.builtinCount(args[0])
	case builtins.ReIsMatch:
		return vm.builtinReIsMatch(args[0], args[1])
	case builtins.ReFind:
		return vm.builtinReFind(args[0], args[1])
	case builtins.ReReplace:
		return vm.builtinReReplace(args[0], args[1], args[2])
	case builtins.ReSplit:
		return vm.builtinReSplit(args[0], args[1])
	case builtins.ReCaptures:
		return vm.builtinReCaptures(args[0], args[1])
	case builtins.ToString:
		vm.push(value.String(args[0].String()))
	case builtins.TypeOf:
		vm.push(value.String(args[0].TypeOf()))
	case builtins.Assert:
		if args[0].Kind != value.KindBool || !args[0].B {
			return newErr(TypeMismatch, vm.pc, "assertion failed")
		}
		vm.push(value.Null())
	default:
		return newErr(UnknownHostFunction, vm.pc, "unimplemented builtin")
	}
	return nil
}

func (vm *VM) builtinLen(v value.Value) *VmError {
	switch v.Kind {
	case value.KindString:
		vm.push(value.Int(int64(len(v.Str))))
	case value.KindArray:
		vm.push(value.Int(int64(len(v.Arr))))
	case value.KindMap:
		vm.push(value.Int(int64(len(v.Map))))
	default:
		return newErr(TypeMismatch, vm.pc, "string, array, or map")
	}
	return nil
}

// builtinCount differs from len for strings: it counts Unicode code points
// rather than bytes. For array/map it is equivalent to len.
func (vm *VM) builtinCount(v value.Value) *VmError {
	switch v.Kind {
	case value.KindString:
		vm.push(value.Int(int64(utf8.RuneCountInString(v.Str))))
	case value.KindArray:
		vm.push(value.Int(int64(len(v.Arr))))
	case value.KindMap:
		vm.push(value.Int(int64(len(v.Map))))
	default:
		return newErr(TypeMismatch, vm.pc, "string, array, or map")
	}
	return nil
}

func clampRange(n, start, end int64) (int, int, bool) {
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end {
		return 0, 0, false
	}
	return int(start), int(end), true
}

func (vm *VM) builtinSlice(container, start, end value.Value) *VmError {
	if start.Kind != value.KindInt || end.Kind != value.KindInt {
		return newErr(TypeMismatch, vm.pc, "int bounds")
	}
	switch container.Kind {
	case value.KindString:
		lo, hi, ok := clampRange(int64(len(container.Str)), start.I, end.I)
		if !ok {
			return newErr(TypeMismatch, vm.pc, "slice bounds")
		}
		vm.push(value.String(container.Str[lo:hi]))
	case value.KindArray:
		lo, hi, ok := clampRange(int64(len(container.Arr)), start.I, end.I)
		if !ok {
			return newErr(TypeMismatch, vm.pc, "slice bounds")
		}
		out := make([]value.Value, hi-lo)
		copy(out, container.Arr[lo:hi])
		vm.push(value.Array(out))
	default:
		return newErr(TypeMismatch, vm.pc, "string or array")
	}
	return nil
}

func (vm *VM) builtinConcat(a, b value.Value) *VmError {
	if a.Kind == value.KindString && b.Kind == value.KindString {
		vm.push(value.String(a.Str + b.Str))
		return nil
	}
	if a.Kind == value.KindArray && b.Kind == value.KindArray {
		out := make([]value.Value, 0, len(a.Arr)+len(b.Arr))
		out = append(out, a.Arr...)
		out = append(out, b.Arr...)
		vm.push(value.Array(out))
		return nil
	}
	return newErr(TypeMismatch, vm.pc, "two strings or two arrays")
}

func (vm *VM) builtinArrayPush(arr, v value.Value) *VmError {
	if arr.Kind != value.KindArray {
		return newErr(TypeMismatch, vm.pc, "array")
	}
	out := make([]value.Value, len(arr.Arr)+1)
	copy(out, arr.Arr)
	out[len(arr.Arr)] = v
	vm.push(value.Array(out))
	return nil
}

func (vm *VM) builtinGet(container, key value.Value) *VmError {
	switch container.Kind {
	case value.KindArray:
		if key.Kind != value.KindInt {
			return newErr(TypeMismatch, vm.pc, "int index")
		}
		if key.I < 0 || key.I >= int64(len(container.Arr)) {
			vm.push(value.Null())
			return nil
		}
		vm.push(container.Arr[key.I])
	case value.KindMap:
		v, ok := container.MapGet(key)
		if !ok {
			vm.push(value.Null())
			return nil
		}
		vm.push(v)
	default:
		return newErr(TypeMismatch, vm.pc, "array or map")
	}
	return nil
}

func (vm *VM) builtinSet(container, key, val value.Value) *VmError {
	switch container.Kind {
	case value.KindArray:
		if key.Kind != value.KindInt || key.I < 0 || key.I >= int64(len(container.Arr)) {
			return newErr(TypeMismatch, vm.pc, "in-bounds int index")
		}
		out := make([]value.Value, len(container.Arr))
		copy(out, container.Arr)
		out[key.I] = val
		vm.push(value.Array(out))
	case value.KindMap:
		vm.push(container.MapSet(key, val))
	default:
		return newErr(TypeMismatch, vm.pc, "array or map")
	}
	return nil
}

func (vm *VM) builtinKeys(m value.Value) *VmError {
	if m.Kind != value.KindMap {
		return newErr(TypeMismatch, vm.pc, "map")
	}
	out := make([]value.Value, len(m.Map))
	for i, pair := range m.Map {
		out[i] = pair.Key
	}
	vm.push(value.Array(out))
	return nil
}

func (vm *VM) builtinIoOpen(path, mode value.Value) *VmError {
	if path.Kind != value.KindString || mode.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "string path and mode")
	}
	var flag int
	switch mode.Str {
	case "r":
		flag = os.O_RDONLY
	case "w":
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case "a":
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return newErr(TypeMismatch, vm.pc, `mode must be "r", "w", or "a"`)
	}
	f, err := os.OpenFile(path.Str, flag, 0o644)
	if err != nil {
		return newErr(BridgeError, vm.pc, err.Error())
	}
	h := &ioHandle{closer: f}
	if flag == os.O_RDONLY {
		h.reader = bufio.NewReader(f)
	} else {
		h.writer = f
	}
	vm.push(vm.newHandle(h))
	return nil
}

func (vm *VM) builtinIoPopen(cmdline, mode value.Value) *VmError {
	if cmdline.Kind != value.KindString || mode.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "string command and mode")
	}
	cmd := exec.Command("/bin/sh", "-c", cmdline.Str)
	h := &ioHandle{cmd: cmd}
	switch mode.Str {
	case "r":
		out, err := cmd.StdoutPipe()
		if err != nil {
			return newErr(BridgeError, vm.pc, err.Error())
		}
		h.reader = bufio.NewReader(out)
		h.closer = out
		if err := cmd.Start(); err != nil {
			return newErr(BridgeError, vm.pc, err.Error())
		}
	case "w":
		in, err := cmd.StdinPipe()
		if err != nil {
			return newErr(BridgeError, vm.pc, err.Error())
		}
		h.writer = in
		h.closer = in
		if err := cmd.Start(); err != nil {
			return newErr(BridgeError, vm.pc, err.Error())
		}
	default:
		return newErr(TypeMismatch, vm.pc, `mode must be "r" or "w"`)
	}
	vm.push(vm.newHandle(h))
	return nil
}

func (vm *VM) builtinIoReadAll(hv value.Value) *VmError {
	h, ok := vm.handle(hv)
	if !ok || h.reader == nil {
		return newErr(TypeMismatch, vm.pc, "readable handle")
	}
	data, err := io.ReadAll(h.reader)
	if err != nil {
		return newErr(BridgeError, vm.pc, err.Error())
	}
	vm.push(value.String(string(data)))
	return nil
}

func (vm *VM) builtinIoReadLine(hv value.Value) *VmError {
	h, ok := vm.handle(hv)
	if !ok || h.reader == nil {
		return newErr(TypeMismatch, vm.pc, "readable handle")
	}
	line, err := h.reader.ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			vm.push(value.Null())
			return nil
		}
		return newErr(BridgeError, vm.pc, err.Error())
	}
	vm.push(value.String(line))
	return nil
}

func (vm *VM) builtinIoWrite(hv, data value.Value) *VmError {
	h, ok := vm.handle(hv)
	if !ok || h.writer == nil || data.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "writable handle and string")
	}
	n, err := io.WriteString(h.writer, data.Str)
	if err != nil {
		return newErr(BridgeError, vm.pc, err.Error())
	}
	vm.push(value.Int(int64(n)))
	return nil
}

func (vm *VM) builtinIoFlush(hv value.Value) *VmError {
	h, ok := vm.handle(hv)
	if !ok {
		return newErr(TypeMismatch, vm.pc, "handle")
	}
	if f, ok := h.writer.(*os.File); ok {
		_ = f.Sync()
	}
	vm.push(value.Null())
	return nil
}

func (vm *VM) builtinIoClose(hv value.Value) *VmError {
	h, ok := vm.handle(hv)
	if !ok {
		return newErr(TypeMismatch, vm.pc, "handle")
	}
	if h.closer != nil {
		_ = h.closer.Close()
	}
	if h.cmd != nil {
		_ = h.cmd.Wait()
	}
	delete(vm.ioHandles, hv.I)
	vm.push(value.Null())
	return nil
}

func (vm *VM) builtinIoExists(path value.Value) *VmError {
	if path.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "string path")
	}
	_, err := os.Stat(path.Str)
	vm.push(value.Bool(err == nil))
	return nil
}

func compileRegex(pattern value.Value) (*regexp.Regexp, *VmError) {
	if pattern.Kind != value.KindString {
		return nil, newErr(TypeMismatch, 0, "string pattern")
	}
	re, err := regexp.Compile(pattern.Str)
	if err != nil {
		return nil, newErr(TypeMismatch, 0, "invalid regex: "+err.Error())
	}
	return re, nil
}

func (vm *VM) builtinReIsMatch(pattern, str value.Value) *VmError {
	re, err := compileRegex(pattern)
	if err != nil {
		return err
	}
	if str.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "string subject")
	}
	vm.push(value.Bool(re.MatchString(str.Str)))
	return nil
}

func (vm *VM) builtinReFind(pattern, str value.Value) *VmError {
	re, err := compileRegex(pattern)
	if err != nil {
		return err
	}
	if str.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "string subject")
	}
	m := re.FindString(str.Str)
	if m == "" && !re.MatchString(str.Str) {
		vm.push(value.Null())
		return nil
	}
	vm.push(value.String(m))
	return nil
}

func (vm *VM) builtinReReplace(pattern, str, repl value.Value) *VmError {
	re, err := compileRegex(pattern)
	if err != nil {
		return err
	}
	if str.Kind != value.KindString || repl.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "string subject and replacement")
	}
	vm.push(value.String(re.ReplaceAllString(str.Str, repl.Str)))
	return nil
}

func (vm *VM) builtinReSplit(pattern, str value.Value) *VmError {
	re, err := compileRegex(pattern)
	if err != nil {
		return err
	}
	if str.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "string subject")
	}
	parts := re.Split(str.Str, -1)
	out := make([]value.Value, len(parts))
	for i, p := range parts {
		out[i] = value.String(p)
	}
	vm.push(value.Array(out))
	return nil
}

func (vm *VM) builtinReCaptures(pattern, str value.Value) *VmError {
	re, err := compileRegex(pattern)
	if err != nil {
		return err
	}
	if str.Kind != value.KindString {
		return newErr(TypeMismatch, vm.pc, "string subject")
	}
	m := re.FindStringSubmatch(str.Str)
	if m == nil {
		vm.push(value.Null())
		return nil
	}
	out := make([]value.Value, len(m))
	for i, g := range m {
		out[i] = value.String(g)
	}
	vm.push(value.Array(out))
	return nil
}
