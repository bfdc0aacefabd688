package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction formats one instruction. Pool operands are shown
// with their string when strings is non-nil.
func DisassembleInstruction(ins Instruction, strings []string) string {
	name := ins.Op.Name()
	pool := func(i int) string {
		if i < len(strings) {
			return fmt.Sprintf("#%d:%s", i, strconv.Quote(strings[i]))
		}
		return fmt.Sprintf("#%d", i)
	}

	switch ins.Op {
	case OpLoadStr, OpLoadAttr, OpLoadProp, OpStoreArg, OpPassThru,
		OpNewBoxArgs, OpSuperNewBoxArgs, OpNewClosure, OpIndent:
		return fmt.Sprintf("%04d  %s %s", ins.Addr, name, pool(ins.Operands[0]))

	case OpNew, OpSuperNew:
		return fmt.Sprintf("%04d  %s %s argc=%d", ins.Addr, name, pool(ins.Operands[0]), ins.Operands[1])

	case OpRegion, OpSuperRegion:
		return fmt.Sprintf("%04d  %s %s %s", ins.Addr, name, pool(ins.Operands[0]), pool(ins.Operands[1]))

	case OpBr, OpBrf:
		return fmt.Sprintf("%04d  %s (-> %04d)", ins.Addr, name, ins.Operands[0])

	case OpStoreOption:
		return fmt.Sprintf("%04d  %s %s", ins.Addr, name, Option(ins.Operands[0]))

	case OpCallBuiltin:
		return fmt.Sprintf("%04d  %s %s", ins.Addr, name, BuiltinName(ins.Operands[0]))

	case OpLoadLocal, OpNewInd, OpRotMap, OpZipMap:
		return fmt.Sprintf("%04d  %s %d", ins.Addr, name, ins.Operands[0])
	}
	return fmt.Sprintf("%04d  %s", ins.Addr, name)
}

// Disassemble returns a listing of code, one instruction per line.
func Disassemble(code []byte, pool []string) string {
	var lines []string
	for addr := 0; addr < len(code); {
		ins, err := Decode(code, addr)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04d  <%v>", addr, err))
			break
		}
		lines = append(lines, DisassembleInstruction(ins, pool))
		addr += ins.Op.Size()
	}
	return strings.Join(lines, "\n")
}

// Disassemble returns a listing of t and every template nested in it.
func (t *CompiledTemplate) Disassemble() string {
	var sb strings.Builder
	t.disassembleTo(&sb)
	return sb.String()
}

func (t *CompiledTemplate) disassembleTo(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s(", t.Name)
	for i, fa := range t.FormalArgs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fa.Name)
	}
	sb.WriteString("):\n")
	if len(t.Code) > 0 {
		sb.WriteString(Disassemble(t.Code, t.Strings))
		sb.WriteString("\n")
	}
	for _, name := range t.NestedNames() {
		sb.WriteString("\n")
		t.Nested[name].disassembleTo(sb)
	}
}
