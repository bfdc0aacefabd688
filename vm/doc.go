// Package vm implements the template virtual machine.
//
// This package contains:
//   - The bytecode instruction set and its builder, decoder and disassembler
//   - CompiledTemplate, the unit of compiled code
//   - Lexical environments and template closures
//   - The interpreter and its auto-indenting writer
//   - Builtin functions and format options
package vm
