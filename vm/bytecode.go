package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Operands follow the opcode
// byte as little-endian uint16 values.
type Opcode byte

// Loads
const (
	OpLoadStr     Opcode = 0x01 // push string constant (pool index)
	OpLoadAttr    Opcode = 0x02 // push attribute resolved through the environment chain (pool index)
	OpLoadLocal   Opcode = 0x03 // push formal argument of the current template (arg index)
	OpLoadProp    Opcode = 0x04 // pop object, push object.property (pool index)
	OpLoadPropInd Opcode = 0x05 // pop name, pop object, push object[name]
	OpNull        Opcode = 0x06 // push null
	OpTrue        Opcode = 0x07 // push true
	OpFalse       Opcode = 0x08 // push false
)

// Options and arguments
const (
	OpOptions     Opcode = 0x10 // push a fresh option set
	OpStoreOption Opcode = 0x11 // pop value into option slot of the set on top (option index)
	OpArgs        Opcode = 0x12 // push a fresh named-argument map
	OpStoreArg    Opcode = 0x13 // pop value into the argument map on top (pool index)
	OpPassThru    Opcode = 0x14 // fill unset args of the named template from the environment (pool index)
)

// Template instantiation
const (
	OpNew             Opcode = 0x20 // pop n args, push template ref (pool index, n)
	OpNewInd          Opcode = 0x21 // pop n args, pop name, push template ref (n)
	OpNewBoxArgs      Opcode = 0x22 // pop argument map, push template ref (pool index)
	OpSuperNew        Opcode = 0x23 // like NEW, resolved from the overridden definition (pool index, n)
	OpSuperNewBoxArgs Opcode = 0x24 // like NEW_BOX_ARGS for super calls (pool index)
	OpNewClosure      Opcode = 0x25 // push nested template paired with the current environment (pool index)
	OpRegion          Opcode = 0x26 // push region ref resolved at run time (owner, region pool indexes)
	OpSuperRegion     Opcode = 0x27 // push overridden region ref (owner, region pool indexes)
)

// Iteration
const (
	OpMap    Opcode = 0x30 // pop template, pop list, push lazily mapped sequence
	OpRotMap Opcode = 0x31 // pop n templates, pop list, push sequence alternating templates (n)
	OpZipMap Opcode = 0x32 // pop template, pop n lists, push lock-step sequence (n)
)

// Control flow
const (
	OpBrf Opcode = 0x40 // pop, branch to absolute address if false (address)
	OpBr  Opcode = 0x41 // branch to absolute address (address)
)

// Output
const (
	OpWrite    Opcode = 0x50 // pop value and write it
	OpWriteOpt Opcode = 0x51 // pop option set, pop value, write with options
	OpIndent   Opcode = 0x52 // push indentation (pool index)
	OpDedent   Opcode = 0x53 // pop indentation
	OpNewline  Opcode = 0x54 // write a newline
)

// Builtins and operators
const (
	OpCallBuiltin Opcode = 0x60 // replace top of stack with builtin(top) (builtin index)
	OpNot         Opcode = 0x61 // pop, push !truthy
	OpOr          Opcode = 0x62 // pop 2, push a || b
	OpAnd         Opcode = 0x63 // pop 2, push a && b
	OpToStr       Opcode = 0x64 // pop, push rendered string
	OpList        Opcode = 0x65 // push empty list
	OpAdd         Opcode = 0x66 // pop value, append (flattened) to list on top
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands int    // number of uint16 operands
	Pop      int    // values popped (-1 = depends on the count operand)
	Push     int    // values pushed
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpLoadStr:     {"LOAD_STR", 1, 0, 1},
	OpLoadAttr:    {"LOAD_ATTR", 1, 0, 1},
	OpLoadLocal:   {"LOAD_LOCAL", 1, 0, 1},
	OpLoadProp:    {"LOAD_PROP", 1, 1, 1},
	OpLoadPropInd: {"LOAD_PROP_IND", 0, 2, 1},
	OpNull:        {"NULL", 0, 0, 1},
	OpTrue:        {"TRUE", 0, 0, 1},
	OpFalse:       {"FALSE", 0, 0, 1},

	OpOptions:     {"OPTIONS", 0, 0, 1},
	OpStoreOption: {"STORE_OPTION", 1, 2, 1}, // pops value and set, pushes set back
	OpArgs:        {"ARGS", 0, 0, 1},
	OpStoreArg:    {"STORE_ARG", 1, 2, 1},
	OpPassThru:    {"PASSTHRU", 1, 1, 1},

	OpNew:             {"NEW", 2, -1, 1},
	OpNewInd:          {"NEW_IND", 1, -1, 1},
	OpNewBoxArgs:      {"NEW_BOX_ARGS", 1, 1, 1},
	OpSuperNew:        {"SUPER_NEW", 2, -1, 1},
	OpSuperNewBoxArgs: {"SUPER_NEW_BOX_ARGS", 1, 1, 1},
	OpNewClosure:      {"NEW_CLOSURE", 1, 0, 1},
	OpRegion:          {"REGION", 2, 0, 1},
	OpSuperRegion:     {"SUPER_REGION", 2, 0, 1},

	OpMap:    {"MAP", 0, 2, 1},
	OpRotMap: {"ROT_MAP", 1, -1, 1},
	OpZipMap: {"ZIP_MAP", 1, -1, 1},

	OpBrf: {"BRF", 1, 1, 0},
	OpBr:  {"BR", 1, 0, 0},

	OpWrite:    {"WRITE", 0, 1, 0},
	OpWriteOpt: {"WRITE_OPT", 0, 2, 0},
	OpIndent:   {"INDENT", 1, 0, 0},
	OpDedent:   {"DEDENT", 0, 0, 0},
	OpNewline:  {"NEWLINE", 0, 0, 0},

	OpCallBuiltin: {"CALL_BUILTIN", 1, 1, 1},
	OpNot:         {"NOT", 0, 1, 1},
	OpOr:          {"OR", 0, 2, 1},
	OpAnd:         {"AND", 0, 2, 1},
	OpToStr:       {"TOSTR", 0, 1, 1},
	OpList:        {"LIST", 0, 0, 1},
	OpAdd:         {"ADD", 0, 2, 1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Size returns the encoded size of the instruction in bytes.
func (op Opcode) Size() int {
	return 1 + 2*op.Info().Operands
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// StackEffect returns how many values the instruction pops and pushes given
// its decoded operands. Count-dependent opcodes read their count operand.
func StackEffect(op Opcode, operands []int) (pop, push int) {
	info := op.Info()
	switch op {
	case OpNew, OpSuperNew:
		return operands[1], 1
	case OpNewInd:
		return operands[0] + 1, 1
	case OpRotMap, OpZipMap:
		return operands[0] + 1, 1
	}
	return info.Pop, info.Push
}

// IsBranch reports whether op transfers control to its address operand.
func (op Opcode) IsBranch() bool {
	return op == OpBrf || op == OpBr
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// MaxOperand is the largest pool index, count or code address an operand
// can hold.
const MaxOperand = math.MaxUint16

// BytecodeBuilder helps construct bytecode sequences. An operand that does
// not fit in 16 bits is written truncated and recorded in Err.
type BytecodeBuilder struct {
	bytes []byte
	err   error
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is also the address of the next
// instruction.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Err returns the first operand overflow, or nil.
func (b *BytecodeBuilder) Err() error {
	return b.err
}

func (b *BytecodeBuilder) check(op Opcode, a int) {
	if (a < 0 || a > MaxOperand) && b.err == nil {
		b.err = fmt.Errorf("%s operand %d at %04d does not fit in 16 bits", op, a, len(b.bytes))
	}
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// Emit1 appends an opcode with one operand.
func (b *BytecodeBuilder) Emit1(op Opcode, a int) {
	b.check(op, a)
	b.bytes = append(b.bytes, byte(op), byte(a), byte(a>>8))
}

// Emit2 appends an opcode with two operands.
func (b *BytecodeBuilder) Emit2(op Opcode, a, c int) {
	b.check(op, a)
	b.check(op, c)
	b.bytes = append(b.bytes, byte(op), byte(a), byte(a>>8), byte(c), byte(c>>8))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a branch target that may not be known yet.
type Label struct {
	resolved bool
	position int   // target address once resolved
	refs     []int // operand positions waiting for the address
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches every forward
// reference to it.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	if len(label.refs) > 0 {
		b.check(Opcode(b.bytes[label.refs[0]-1]), label.position)
	}
	for _, ref := range label.refs {
		b.bytes[ref] = byte(label.position)
		b.bytes[ref+1] = byte(label.position >> 8)
	}
	label.refs = nil
}

// EmitJump emits a branch instruction to label. Addresses are absolute.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	if label.resolved {
		b.check(op, label.position)
	}
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		b.bytes = append(b.bytes, byte(label.position), byte(label.position>>8))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0) // placeholder
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction.
type Instruction struct {
	Addr     int
	Op       Opcode
	Operands []int
}

// Decode reads the instruction at addr. It returns an error for truncated or
// unknown instructions.
func Decode(code []byte, addr int) (Instruction, error) {
	if addr < 0 || addr >= len(code) {
		return Instruction{}, fmt.Errorf("address %d out of range", addr)
	}
	op := Opcode(code[addr])
	if !op.Valid() {
		return Instruction{}, fmt.Errorf("unknown opcode 0x%02X at %d", byte(op), addr)
	}
	n := op.Info().Operands
	if addr+1+2*n > len(code) {
		return Instruction{}, fmt.Errorf("truncated %s at %d", op, addr)
	}
	ins := Instruction{Addr: addr, Op: op}
	for i := 0; i < n; i++ {
		ins.Operands = append(ins.Operands, int(binary.LittleEndian.Uint16(code[addr+1+2*i:])))
	}
	return ins, nil
}

// readOperand reads the operand at pos without bounds checks; the interpreter
// only runs verified code.
func readOperand(code []byte, pos int) int {
	return int(binary.LittleEndian.Uint16(code[pos:]))
}
