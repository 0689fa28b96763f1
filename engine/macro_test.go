package engine

import (
	"testing"
)

// Small encoders for macro instructions, mirroring the bit layout the
// interpreter consumes.

func encAddImm(resultOp, dst, srcA uint32, imm int32) uint32 {
	return macroOpAddImmediate | resultOp<<4 | dst<<8 | srcA<<11 | uint32(imm)<<14
}

func encALU(aluOp, resultOp, dst, srcA, srcB uint32) uint32 {
	return macroOpALU | resultOp<<4 | dst<<8 | srcA<<11 | srcB<<14 | aluOp<<17
}

func encBranch(notZero, annul bool, src uint32, imm int32) uint32 {
	op := macroOpBranch | src<<11 | uint32(imm)<<14
	if notZero {
		op |= 1 << 4
	}
	if annul {
		op |= 1 << 5
	}
	return op
}

func encRead(resultOp, dst, srcA uint32, imm int32) uint32 {
	return macroOpRead | resultOp<<4 | dst<<8 | srcA<<11 | uint32(imm)<<14
}

const macroNop = macroOpALU | macroResMove<<4 // add r0+r0 into r0

// fakeSender records macro register writes and serves reads.
type fakeSender struct {
	writes [][2]uint32
	regs   map[uint32]uint32
}

func (f *fakeSender) macroWrite(method, arg uint32) {
	f.writes = append(f.writes, [2]uint32{method, arg})
}

func (f *fakeSender) macroRead(method uint32) uint32 { return f.regs[method] }

func runMacro(t *testing.T, code []uint32, params ...uint32) *fakeSender {
	t.Helper()
	s := &fakeSender{regs: map[uint32]uint32{}}
	mi := macroInterpreter{sender: s}
	mi.execute(code, 0, params)
	return s
}

func TestInterpreterSendParameter(t *testing.T) {
	// Set the target method, then send r1 (the first parameter) and
	// exit. The exit delay slot is an explicit nop.
	code := []uint32{
		encAddImm(macroResMoveAndSetMethod, 2, 0, 0x4DD),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 1, 0) | macroExitFlag,
		macroNop,
	}
	s := runMacro(t, code, 0xCAFE)
	if len(s.writes) != 1 || s.writes[0] != [2]uint32{0x4DD, 0xCAFE} {
		t.Fatalf("writes = %v, want [[0x4dd 0xcafe]]", s.writes)
	}
}

func TestInterpreterMethodIncrement(t *testing.T) {
	// Method field carries an increment in bits [17:12]; consecutive
	// sends step the method.
	code := []uint32{
		encAddImm(macroResMoveAndSetMethod, 2, 0, 0x200|1<<12),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 1, 0),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 1, 0) | macroExitFlag,
		macroNop,
	}
	s := runMacro(t, code, 7)
	want := [][2]uint32{{0x200, 7}, {0x201, 7}}
	if len(s.writes) != 2 || s.writes[0] != want[0] || s.writes[1] != want[1] {
		t.Fatalf("writes = %v, want %v", s.writes, want)
	}
}

func TestInterpreterFetchParam(t *testing.T) {
	code := []uint32{
		encAddImm(macroResMoveAndSetMethod, 2, 0, 0x300),
		// Fetch params[1] into r3 and send the ALU result (r1).
		encALU(macroALUAdd, macroResFetchAndSend, 3, 1, 0),
		// Send the fetched value.
		encALU(macroALUAdd, macroResMoveAndSend, 0, 3, 0) | macroExitFlag,
		macroNop,
	}
	s := runMacro(t, code, 11, 22)
	want := [][2]uint32{{0x300, 11}, {0x300, 22}}
	if len(s.writes) != 2 || s.writes[0] != want[0] || s.writes[1] != want[1] {
		t.Fatalf("writes = %v, want %v", s.writes, want)
	}
}

func TestInterpreterFetchPastParamsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic fetching past the parameter list")
		}
	}()
	code := []uint32{
		encALU(macroALUAdd, macroResFetchAndSend, 3, 1, 0) | macroExitFlag,
		macroNop,
	}
	runMacro(t, code, 1) // only params[0]; fetch must fail
}

func TestInterpreterBranchLoop(t *testing.T) {
	// r2 counts down from 3; each decrement is sent. The backward
	// branch uses the annul bit so no delay slot runs.
	code := []uint32{
		encAddImm(macroResMoveAndSetMethod, 4, 0, 0x100),
		encAddImm(macroResMove, 2, 0, 3),
		encAddImm(macroResMoveAndSend, 2, 2, -1),
		encBranch(true, true, 2, -1),
		macroNop | macroExitFlag,
		macroNop,
	}
	s := runMacro(t, code, 0)
	want := [][2]uint32{{0x100, 2}, {0x100, 1}, {0x100, 0}}
	if len(s.writes) != 3 {
		t.Fatalf("writes = %v, want %v", s.writes, want)
	}
	for i := range want {
		if s.writes[i] != want[i] {
			t.Fatalf("writes[%d] = %v, want %v", i, s.writes[i], want[i])
		}
	}
}

func TestInterpreterTakenBranchDelaySlot(t *testing.T) {
	// Without annul, a taken branch executes the instruction after it
	// before redirecting.
	code := []uint32{
		encAddImm(macroResMoveAndSetMethod, 4, 0, 0x100),
		encBranch(false, false, 0, 3), // r0 == 0, taken, target = pc+3
		encAddImm(macroResMoveAndSend, 0, 0, 0x11), // delay slot, runs
		encAddImm(macroResMoveAndSend, 0, 0, 0x22), // skipped
		encAddImm(macroResMoveAndSend, 0, 0, 0x33) | macroExitFlag,
		macroNop,
	}
	s := runMacro(t, code, 0)
	want := [][2]uint32{{0x100, 0x11}, {0x100, 0x33}}
	if len(s.writes) != 2 || s.writes[0] != want[0] || s.writes[1] != want[1] {
		t.Fatalf("writes = %v, want %v", s.writes, want)
	}
}

func TestInterpreterAddWithCarry(t *testing.T) {
	// 64-bit add across two 32-bit halves: Add sets the carry, AddC
	// consumes it.
	code := []uint32{
		encAddImm(macroResMove, 2, 0, -1), // r2 = 0xFFFFFFFF
		encAddImm(macroResMove, 3, 0, 1),  // r3 = 1
		encAddImm(macroResMoveAndSetMethod, 4, 0, 0x400|1<<12),
		encALU(macroALUAdd, macroResMoveAndSend, 5, 2, 3),  // low: 0, carry
		encALU(macroALUAddC, macroResMoveAndSend, 5, 0, 0) | macroExitFlag, // high: 1
		macroNop,
	}
	s := runMacro(t, code, 0)
	want := [][2]uint32{{0x400, 0}, {0x401, 1}}
	if len(s.writes) != 2 || s.writes[0] != want[0] || s.writes[1] != want[1] {
		t.Fatalf("writes = %v, want %v", s.writes, want)
	}
}

func TestInterpreterRead(t *testing.T) {
	code := []uint32{
		encAddImm(macroResMoveAndSetMethod, 2, 0, 0x500),
		encRead(macroResMove, 3, 0, 0x4DD),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 3, 0) | macroExitFlag,
		macroNop,
	}
	s := &fakeSender{regs: map[uint32]uint32{0x4DD: 0x900}}
	mi := macroInterpreter{sender: s}
	mi.execute(code, 0, []uint32{0})
	if len(s.writes) != 1 || s.writes[0] != [2]uint32{0x500, 0x900} {
		t.Fatalf("writes = %v, want [[0x500 0x900]]", s.writes)
	}
}

func TestInterpreterRegisterZeroHardwired(t *testing.T) {
	code := []uint32{
		encAddImm(macroResMove, 0, 0, 0x7F), // write to r0, discarded
		encAddImm(macroResMoveAndSetMethod, 2, 0, 0x600),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 0, 0) | macroExitFlag,
		macroNop,
	}
	s := runMacro(t, code, 0)
	if len(s.writes) != 1 || s.writes[0] != [2]uint32{0x600, 0} {
		t.Fatalf("writes = %v, want [[0x600 0]]", s.writes)
	}
}

// uploadMacro uploads code at offset 0 and binds it to slot 0.
func uploadMacro(t *testing.T, g *Graphics, code []uint32) {
	t.Helper()
	g.CallMethod(RegMacroUploadAddress, 0, true)
	for _, w := range code {
		g.CallMethod(RegMacroUploadData, w, true)
	}
	g.CallMethod(RegMacroBind, 0, true)
}

func TestMacroUploadBindExecute(t *testing.T) {
	g, _, _, _ := newTestGraphics(t)

	uploadMacro(t, g, []uint32{
		encAddImm(macroResMoveAndSetMethod, 2, 0, int32(RegCullFace)),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 1, 0) | macroExitFlag,
		macroNop,
	})

	g.CallMethod(MacroMethodBase, glCCW, true)
	if got := g.Reg(RegCullFace); got != glCCW {
		t.Fatalf("cull face = %#x, want %#x", got, glCCW)
	}
}

func TestMacroMultipleParameters(t *testing.T) {
	g, _, _, _ := newTestGraphics(t)

	uploadMacro(t, g, []uint32{
		encAddImm(macroResMoveAndSetMethod, 2, 0, int32(RegFrontFace)),
		encALU(macroALUAdd, macroResFetchAndSend, 3, 0, 0),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 3, 0) | macroExitFlag,
		macroNop,
	})

	// First write selects the macro and carries params[0]; the second
	// targets the argument register.
	g.CallMethod(MacroMethodBase, 0, false)
	g.CallMethod(MacroMethodBase+1, glCCW, true)
	if got := g.Reg(RegFrontFace); got != glCCW {
		t.Fatalf("front face = %#x, want %#x", got, glCCW)
	}
}

func TestMacroStrayArgumentPanics(t *testing.T) {
	g, _, _, _ := newTestGraphics(t)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for an argument write with no macro in progress")
		}
	}()
	g.CallMethod(MacroMethodBase+1, 0, true)
}

func TestMacroHLEShortCircuit(t *testing.T) {
	g, _, _, _ := newTestGraphics(t)

	uploadMacro(t, g, []uint32{
		encAddImm(macroResMoveAndSetMethod, 2, 0, int32(RegCullFace)),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 1, 0) | macroExitFlag,
		macroNop,
	})

	g.RegisterMacroHLE(g.macros.hashes[0], func(s MacroSession, params []uint32) {
		s.Write(RegFrontFace, glCCW)
	})

	g.CallMethod(MacroMethodBase, 0x404, true)
	if got := g.Reg(RegFrontFace); got != glCCW {
		t.Fatalf("HLE did not run: front face = %#x", got)
	}
	if got := g.Reg(RegCullFace); got == 0x404 {
		t.Fatal("interpreter ran despite HLE registration")
	}
}

func TestMacroArgumentsSplitAcrossBatches(t *testing.T) {
	g, _, _, _ := newTestGraphics(t)

	uploadMacro(t, g, []uint32{
		encAddImm(macroResMoveAndSetMethod, 2, 0, int32(RegFrontFace)),
		encALU(macroALUAdd, macroResIgnoreAndFetch, 3, 0, 0),
		encALU(macroALUAdd, macroResIgnoreAndFetch, 4, 0, 0),
		encALU(macroALUAdd, macroResMoveAndSend, 0, 4, 0) | macroExitFlag,
		macroNop,
	})

	// A non-incrementing argument stream split across command list
	// fragments: the first batch still has a word pending, so the
	// macro must keep collecting instead of executing.
	g.CallMethod(MacroMethodBase, 0, false)
	g.CallMultiMethod(MacroMethodBase+1, []uint32{7}, 1)
	if got := g.Reg(RegFrontFace); got != glCW {
		t.Fatalf("macro executed before its final argument arrived: front face = %#x", got)
	}

	g.CallMultiMethod(MacroMethodBase+1, []uint32{glCCW}, 0)
	if got := g.Reg(RegFrontFace); got != glCCW {
		t.Fatalf("front face = %#x, want %#x", got, glCCW)
	}
}
