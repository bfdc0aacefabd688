package vm

import (
	"fmt"
)

// Verify checks that t's code decodes cleanly, that operands are in range,
// that every branch lands on an instruction boundary, and that the stack
// depth is the same on every path into an instruction, never goes negative
// and is zero at the end. Nested templates are verified too.
func Verify(t *CompiledTemplate) error {
	if err := verifyCode(t); err != nil {
		return fmt.Errorf("%s: %w", t.Name, err)
	}
	for _, name := range t.NestedNames() {
		if err := Verify(t.Nested[name]); err != nil {
			return err
		}
	}
	return nil
}

func verifyCode(t *CompiledTemplate) error {
	if len(t.Strings) > MaxOperand+1 {
		return fmt.Errorf("constant pool has %d entries, at most %d are addressable", len(t.Strings), MaxOperand+1)
	}
	code := t.Code
	insns := make(map[int]Instruction)
	branches := false
	for addr := 0; addr < len(code); {
		ins, err := Decode(code, addr)
		if err != nil {
			return err
		}
		if err := checkOperands(t, ins); err != nil {
			return err
		}
		insns[addr] = ins
		branches = branches || ins.Op == OpBr || ins.Op == OpBrf
		addr += ins.Op.Size()
	}
	if branches && len(code) > MaxOperand+1 {
		return fmt.Errorf("%d bytes of code with branches, at most %d are addressable", len(code), MaxOperand+1)
	}

	depth := map[int]int{0: 0}
	work := []int{0}
	for len(work) > 0 {
		addr := work[len(work)-1]
		work = work[:len(work)-1]
		d := depth[addr]
		if addr == len(code) {
			if d != 0 {
				return fmt.Errorf("%d values left on the stack at end", d)
			}
			continue
		}
		ins := insns[addr]
		pop, push := StackEffect(ins.Op, ins.Operands)
		if d < pop {
			return fmt.Errorf("stack underflow at %04d %s: depth %d, pops %d", addr, ins.Op, d, pop)
		}
		d = d - pop + push

		var succ []int
		switch ins.Op {
		case OpBr:
			succ = []int{ins.Operands[0]}
		case OpBrf:
			succ = []int{addr + ins.Op.Size(), ins.Operands[0]}
		default:
			succ = []int{addr + ins.Op.Size()}
		}
		for _, next := range succ {
			if _, ok := insns[next]; !ok && next != len(code) {
				return fmt.Errorf("branch at %04d to %04d is not an instruction boundary", addr, next)
			}
			if seen, ok := depth[next]; ok {
				if seen != d {
					return fmt.Errorf("inconsistent stack depth at %04d: %d and %d", next, seen, d)
				}
				continue
			}
			depth[next] = d
			work = append(work, next)
		}
	}
	return nil
}

func checkOperands(t *CompiledTemplate, ins Instruction) error {
	inPool := func(i int) error {
		if i >= len(t.Strings) {
			return fmt.Errorf("%04d %s: pool index %d out of range", ins.Addr, ins.Op, i)
		}
		return nil
	}
	switch ins.Op {
	case OpLoadStr, OpLoadAttr, OpLoadProp, OpStoreArg, OpPassThru, OpNew, OpNewBoxArgs,
		OpSuperNew, OpSuperNewBoxArgs, OpNewClosure, OpIndent:
		return inPool(ins.Operands[0])
	case OpRegion, OpSuperRegion:
		if err := inPool(ins.Operands[0]); err != nil {
			return err
		}
		return inPool(ins.Operands[1])
	case OpLoadLocal:
		if ins.Operands[0] >= len(t.FormalArgs) {
			return fmt.Errorf("%04d %s: no formal argument %d", ins.Addr, ins.Op, ins.Operands[0])
		}
	case OpStoreOption:
		if ins.Operands[0] >= NumOptions {
			return fmt.Errorf("%04d %s: no option %d", ins.Addr, ins.Op, ins.Operands[0])
		}
	case OpCallBuiltin:
		if ins.Operands[0] >= len(builtins) {
			return fmt.Errorf("%04d %s: no builtin %d", ins.Addr, ins.Op, ins.Operands[0])
		}
	case OpRotMap, OpZipMap:
		if ins.Operands[0] == 0 {
			return fmt.Errorf("%04d %s: zero count", ins.Addr, ins.Op)
		}
	}
	return nil
}
