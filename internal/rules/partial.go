package rules

import "regexp/syntax"

// live runs the compiled program over input and reports whether any
// thread survives, i.e. whether some extension of input could still be
// matched. Reaching a match state on the way also counts, since a prefix
// match covers every extension.
func (m matcher) live(input string) bool {
	prog := m.prog
	runes := []rune(input)
	onList := make([]bool, len(prog.Inst))
	cur := make([]uint32, 0, len(prog.Inst))
	next := make([]uint32, 0, len(prog.Inst))
	matched := false

	add := func(list []uint32, pc uint32, flags syntax.EmptyOp) []uint32 {
		stack := []uint32{pc}
		for len(stack) > 0 {
			pc := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if onList[pc] {
				continue
			}
			onList[pc] = true
			inst := &prog.Inst[pc]
			switch inst.Op {
			case syntax.InstFail:
			case syntax.InstAlt, syntax.InstAltMatch:
				stack = append(stack, inst.Arg, inst.Out)
			case syntax.InstCapture, syntax.InstNop:
				stack = append(stack, inst.Out)
			case syntax.InstEmptyWidth:
				if syntax.EmptyOp(inst.Arg)&^flags == 0 {
					stack = append(stack, inst.Out)
				}
			case syntax.InstMatch:
				matched = true
			default:
				list = append(list, pc)
			}
		}
		return list
	}

	cur = add(cur, uint32(prog.Start), contextAt(runes, 0))
	for i, r := range runes {
		if matched {
			return true
		}
		if len(cur) == 0 {
			return false
		}
		clear(onList)
		next = next[:0]
		flags := contextAt(runes, i+1)
		for _, pc := range cur {
			inst := &prog.Inst[pc]
			if stepRune(inst, r) {
				next = add(next, inst.Out, flags)
			}
		}
		cur, next = next, cur
	}
	return matched || len(cur) > 0
}

// contextAt returns the empty-width assertions that can hold at position
// i. Past the end of input more runes are assumed to follow, so end of
// text never holds there while line and word boundaries might.
func contextAt(runes []rune, i int) syntax.EmptyOp {
	prev := rune(-1)
	if i > 0 {
		prev = runes[i-1]
	}
	if i < len(runes) {
		return syntax.EmptyOpContext(prev, runes[i])
	}
	flags := syntax.EmptyOpContext(prev, 'a') |
		syntax.EmptyOpContext(prev, '/') |
		syntax.EmptyOpContext(prev, '\n')
	return flags &^ syntax.EmptyEndText
}

func stepRune(inst *syntax.Inst, r rune) bool {
	switch inst.Op {
	case syntax.InstRune, syntax.InstRune1:
		return inst.MatchRune(r)
	case syntax.InstRuneAny:
		return true
	case syntax.InstRuneAnyNotNL:
		return r != '\n'
	default:
		return false
	}
}
