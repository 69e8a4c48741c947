package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of code and every code unit
// nested in its constants.
func Disassemble(code *Code) string {
	var sb strings.Builder
	disassemble(&sb, code)
	return sb.String()
}

func disassemble(sb *strings.Builder, code *Code) {
	fmt.Fprintf(sb, "; === %s (%s:%d) ===\n", code.displayName(), code.Filename, code.FirstLine)
	fmt.Fprintf(sb, "; args: %d, locals: %d, stack: %d, cells: %d, frees: %d, blocks: %d\n",
		code.ArgCount, len(code.VarNames), code.StackSize, len(code.CellVars), len(code.FreeVars), code.BlockDepth)
	if code.Flags != 0 {
		fmt.Fprintf(sb, "; flags: 0x%04X", uint32(code.Flags))
		if code.IsGenerator() {
			sb.WriteString(" [GENERATOR]")
		}
		sb.WriteString("\n")
	}
	writeNames(sb, "Locals", code.VarNames)
	writeNames(sb, "Cells", code.CellVars)
	writeNames(sb, "Frees", code.FreeVars)

	if len(code.Consts) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range code.Consts {
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, constRepr(c))
		}
	}
	if len(code.Names) > 0 {
		sb.WriteString("; Names:\n")
		for i, n := range code.Names {
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, n)
		}
	}
	sb.WriteString("\n")

	instrs, err := DecodeInstructions(code.Instructions)
	if err != nil {
		fmt.Fprintf(sb, "; error: %v\n", err)
		return
	}
	targets := map[int]bool{}
	for _, in := range instrs {
		if t, ok := in.JumpTarget(); ok {
			targets[t] = true
		}
	}
	lastLine := -1
	for _, in := range instrs {
		lineCol := ""
		if line := code.LineForIndex(in.Index); line != lastLine {
			lineCol = fmt.Sprint(line)
			lastLine = line
		}
		marker := ""
		if targets[in.Offset] {
			marker = ">>"
		}
		fmt.Fprintf(sb, "%4s %2s %04d  %s\n", lineCol, marker, in.Offset, DisassembleInstruction(code, in))
	}

	for _, c := range code.Consts {
		if nested, ok := c.(*Code); ok {
			sb.WriteString("\n")
			disassemble(sb, nested)
		}
	}
}

func writeNames(sb *strings.Builder, label string, names []string) {
	if len(names) > 0 {
		fmt.Fprintf(sb, "; %s: %s\n", label, strings.Join(names, ", "))
	}
}

// DisassembleInstruction renders one instruction with its decoded operands.
func DisassembleInstruction(code *Code, in Instruction) string {
	if !in.Op.HasArg() {
		return in.Op.String()
	}
	operands := Operands(in)
	if !in.Op.IsRegister() {
		note := ""
		if len(operands) == 1 {
			note = operandNote(code, operands[0])
		}
		if note != "" {
			return fmt.Sprintf("%-28s %5d (%s)", in.Op, in.Arg, note)
		}
		return fmt.Sprintf("%-28s %5d", in.Op, in.Arg)
	}

	parts := make([]string, 0, len(operands))
	for _, opnd := range operands {
		if opnd.Role == "last" {
			continue
		}
		s := fmt.Sprintf("%s=%s", opnd.Role, operandText(opnd))
		if note := operandNote(code, opnd); note != "" {
			s += "(" + note + ")"
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("%-28s %s", in.Op, strings.Join(parts, " "))
}

func operandText(opnd Operand) string {
	switch opnd.Kind {
	case OperandSlot:
		return fmt.Sprintf("r%d", opnd.Value)
	case OperandTarget:
		return fmt.Sprintf("%04d", opnd.Value)
	}
	return fmt.Sprint(opnd.Value)
}

// operandNote annotates an operand with the pool entry or name it denotes.
func operandNote(code *Code, opnd Operand) string {
	in := func(n int) bool { return opnd.Value >= 0 && opnd.Value < n }
	switch opnd.Kind {
	case OperandSlot:
		if in(len(code.VarNames)) {
			return code.VarNames[opnd.Value]
		}
	case OperandConst:
		if in(len(code.Consts)) {
			return constRepr(code.Consts[opnd.Value])
		}
	case OperandName:
		if in(len(code.Names)) {
			return code.Names[opnd.Value]
		}
	case OperandLocal:
		if in(len(code.VarNames)) {
			return code.VarNames[opnd.Value]
		}
	case OperandDeref:
		return code.derefName(opnd.Value)
	case OperandCompare:
		return CompareOp(opnd.Value).String()
	case OperandTarget:
		return fmt.Sprintf("to %d", opnd.Value)
	}
	return ""
}

func constRepr(v Value) string {
	var s string
	switch x := v.(type) {
	case string:
		s = fmt.Sprintf("%q", x)
	case *Code:
		s = x.String()
	case nil:
		s = "<empty>"
	default:
		s = fmt.Sprint(x)
	}
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return s
}
