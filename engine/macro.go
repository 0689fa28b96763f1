package engine

import (
	"hash/fnv"
)

// Macro engine: replayable micro-programs uploaded by the guest that
// synthesize register writes into the 3D engine. Methods at or above
// MacroMethodBase address macro slots rather than real registers.

const (
	// MacroMethodBase is the first method id that addresses macro
	// slots; slot index is (method - MacroMethodBase) / 2.
	MacroMethodBase = 0xE00

	// macroCodeWords is the size of the macro upload buffer.
	macroCodeWords = 0x800

	// macroSlots is the number of bindable macro entries.
	macroSlots = 0x80
)

// macroSender delivers register writes emitted by a macro back into
// the 3D engine, honoring the shadow-RAM contract.
type macroSender interface {
	// macroWrite performs a register write from macro execution.
	macroWrite(method uint32, arg uint32)

	// macroRead reads the register file (Read operation).
	macroRead(method uint32) uint32
}

// HLEFunc short-circuits a macro whose code hash is known, emitting
// the same register writes directly. It must be semantically
// transparent.
type HLEFunc func(s MacroSession, params []uint32)

// MacroSession is the surface an HLE macro uses to touch the engine.
type MacroSession interface {
	// Write performs a register write as the macro would.
	Write(method uint32, arg uint32)

	// Read reads the engine register file.
	Read(method uint32) uint32
}

// macroEngine owns the upload buffer, the slot table, the interpreter
// and the HLE table.
type macroEngine struct {
	code      [macroCodeWords]uint32
	uploadPtr uint32

	positions [macroSlots]uint32 // code offsets per slot
	bindSlot  uint32

	interp macroInterpreter
	hle    map[uint64]HLEFunc

	// hashes[slot] caches the code hash captured at bind time.
	hashes [macroSlots]uint64
}

func newMacroEngine(sender macroSender) *macroEngine {
	m := &macroEngine{hle: make(map[uint64]HLEFunc)}
	m.interp.sender = sender
	return m
}

// setUploadAddress repositions the code upload cursor.
func (m *macroEngine) setUploadAddress(addr uint32) {
	m.uploadPtr = addr % macroCodeWords
}

// upload appends one code word at the cursor.
func (m *macroEngine) upload(word uint32) {
	m.code[m.uploadPtr%macroCodeWords] = word
	m.uploadPtr++
}

// bind assigns the next slot to the given code offset.
func (m *macroEngine) bind(offset uint32) {
	slot := m.bindSlot % macroSlots
	m.positions[slot] = offset % macroCodeWords
	m.hashes[slot] = m.hashCode(offset % macroCodeWords)
	m.bindSlot++
}

// hashCode hashes the code from offset up to (and including) the
// first instruction carrying the exit flag, FNV-64a over the raw
// words.
func (m *macroEngine) hashCode(offset uint32) uint64 {
	h := fnv.New64a()
	var w [4]byte
	for i := offset; i < macroCodeWords; i++ {
		op := m.code[i]
		w[0] = byte(op)
		w[1] = byte(op >> 8)
		w[2] = byte(op >> 16)
		w[3] = byte(op >> 24)
		_, _ = h.Write(w[:])
		if op&macroExitFlag != 0 {
			break
		}
	}
	return h.Sum64()
}

// registerHLE installs an accelerated implementation for a code hash.
func (m *macroEngine) registerHLE(hash uint64, fn HLEFunc) {
	m.hle[hash] = fn
}

// execute runs the macro bound to slot with the collected parameters.
func (m *macroEngine) execute(slot uint32, params []uint32) {
	slot %= macroSlots
	if fn, ok := m.hle[m.hashes[slot]]; ok {
		fn(hleSession{m.interp.sender}, params)
		return
	}
	m.interp.execute(m.code[:], m.positions[slot], params)
}

// hleSession adapts the macro sender for HLE functions.
type hleSession struct{ s macroSender }

func (h hleSession) Write(method, arg uint32) { h.s.macroWrite(method, arg) }
func (h hleSession) Read(method uint32) uint32 { return h.s.macroRead(method) }

// Macro instruction encoding.
const (
	macroOpMask   = 7
	macroExitFlag = 1 << 7
)

// Macro operations (bits [2:0]).
const (
	macroOpALU uint32 = iota
	macroOpAddImmediate
	macroOpExtractInsert
	macroOpExtractShiftLeftImmediate
	macroOpExtractShiftLeftRegister
	macroOpRead
	_
	macroOpBranch
)

// ALU operations (bits [21:17] of an ALU instruction).
const (
	macroALUAdd uint32 = 0
	macroALUAddC uint32 = 1
	macroALUSub uint32 = 2
	macroALUSubB uint32 = 3
	macroALUXor uint32 = 8
	macroALUOr uint32 = 9
	macroALUAnd uint32 = 10
	macroALUAndNot uint32 = 11
	macroALUNand uint32 = 12
)

// Result operations (bits [6:4]).
const (
	macroResIgnoreAndFetch uint32 = iota
	macroResMove
	macroResMoveAndSetMethod
	macroResFetchAndSend
	macroResMoveAndSend
	macroResFetchAndSetMethod
	macroResMoveAndSetMethodFetchAndSend
	macroResMoveAndSetMethodSend
)

// macroInterpreter executes macro code against a sender.
type macroInterpreter struct {
	sender macroSender

	registers [8]uint32
	params    []uint32
	nextParam int

	methodValue uint32 // bits [11:0]
	methodInc   uint32 // bits [17:12]

	carry bool
	pc    uint32
}

func (mi *macroInterpreter) execute(code []uint32, offset uint32, params []uint32) {
	mi.registers = [8]uint32{}
	mi.params = params
	mi.nextParam = 1
	mi.carry = false
	mi.pc = offset
	if len(params) > 0 {
		mi.registers[1] = params[0]
	}

	for {
		op := code[mi.pc%uint32(len(code))]
		if !mi.step(code, op) {
			mi.pc++
		}
		if op&macroExitFlag != 0 {
			// Exit executes one delay-slot instruction, then stops.
			mi.step(code, code[mi.pc%uint32(len(code))])
			return
		}
	}
}

// step executes one instruction; it reports whether the pc was
// redirected (branch taken).
func (mi *macroInterpreter) step(code []uint32, op uint32) bool {
	switch op & macroOpMask {
	case macroOpALU:
		result := mi.alu(op>>17&0x1F, mi.reg(op>>11&7), mi.reg(op>>14&7))
		mi.processResult(op, result)
	case macroOpAddImmediate:
		mi.processResult(op, mi.reg(op>>11&7)+uint32(macroImmediate(op)))
	case macroOpExtractInsert:
		base := mi.reg(op >> 11 & 7)
		src := mi.reg(op >> 14 & 7)
		srcBit := op >> 17 & 0x1F
		mask := uint32(1)<<(op>>22&0x1F) - 1
		dstBit := op >> 27 & 0x1F
		src = src >> srcBit & mask
		base &^= mask << dstBit
		mi.processResult(op, base|src<<dstBit)
	case macroOpExtractShiftLeftImmediate:
		shift := mi.reg(op >> 11 & 7)
		src := mi.reg(op >> 14 & 7)
		mask := uint32(1)<<(op>>22&0x1F) - 1
		dstBit := op >> 27 & 0x1F
		mi.processResult(op, (src>>shift&mask)<<dstBit)
	case macroOpExtractShiftLeftRegister:
		shift := mi.reg(op >> 11 & 7)
		src := mi.reg(op >> 14 & 7)
		srcBit := op >> 17 & 0x1F
		mask := uint32(1)<<(op>>22&0x1F) - 1
		mi.processResult(op, src>>srcBit&mask<<(shift&0x1F))
	case macroOpRead:
		addr := mi.reg(op>>11&7) + uint32(macroImmediate(op))
		mi.processResult(op, mi.sender.macroRead(addr))
	case macroOpBranch:
		value := mi.reg(op >> 11 & 7)
		taken := value == 0
		if op>>4&1 != 0 { // NotZero condition
			taken = value != 0
		}
		if !taken {
			return false
		}
		target := mi.pc + uint32(macroImmediate(op))
		if op>>5&1 != 0 { // annul: no delay slot
			mi.pc = target
			return true
		}
		// Taken branch executes its delay slot first.
		delay := code[(mi.pc+1)%uint32(len(code))]
		mi.step(code, delay)
		mi.pc = target
		return true
	default:
		panic("tegra: invalid macro operation")
	}
	return false
}

func (mi *macroInterpreter) alu(aluOp, a, b uint32) uint32 {
	switch aluOp {
	case macroALUAdd:
		r := uint64(a) + uint64(b)
		mi.carry = r > 0xFFFFFFFF
		return uint32(r)
	case macroALUAddC:
		c := uint64(0)
		if mi.carry {
			c = 1
		}
		r := uint64(a) + uint64(b) + c
		mi.carry = r > 0xFFFFFFFF
		return uint32(r)
	case macroALUSub:
		r := uint64(a) - uint64(b)
		mi.carry = r < 0x100000000
		return uint32(r)
	case macroALUSubB:
		c := uint64(0)
		if mi.carry {
			c = 1
		}
		r := uint64(a) - uint64(b) - (1 - c)
		mi.carry = r < 0x100000000
		return uint32(r)
	case macroALUXor:
		return a ^ b
	case macroALUOr:
		return a | b
	case macroALUAnd:
		return a & b
	case macroALUAndNot:
		return a &^ b
	case macroALUNand:
		return ^(a & b)
	default:
		panic("tegra: invalid macro ALU operation")
	}
}

func (mi *macroInterpreter) processResult(op, result uint32) {
	dst := op >> 8 & 7
	switch op >> 4 & 7 {
	case macroResIgnoreAndFetch:
		mi.setReg(dst, mi.fetchParam())
	case macroResMove:
		mi.setReg(dst, result)
	case macroResMoveAndSetMethod:
		mi.setReg(dst, result)
		mi.setMethod(result)
	case macroResFetchAndSend:
		mi.setReg(dst, mi.fetchParam())
		mi.send(result)
	case macroResMoveAndSend:
		mi.setReg(dst, result)
		mi.send(result)
	case macroResFetchAndSetMethod:
		mi.setReg(dst, mi.fetchParam())
		mi.setMethod(result)
	case macroResMoveAndSetMethodFetchAndSend:
		mi.setReg(dst, result)
		mi.setMethod(result)
		mi.send(mi.fetchParam())
	case macroResMoveAndSetMethodSend:
		mi.setReg(dst, result)
		mi.setMethod(result)
		mi.send(result >> 12 & 0x3F)
	}
}

func (mi *macroInterpreter) reg(i uint32) uint32 {
	if i == 0 {
		return 0
	}
	return mi.registers[i&7]
}

func (mi *macroInterpreter) setReg(i, v uint32) {
	if i == 0 {
		return // r0 is hardwired to zero
	}
	mi.registers[i&7] = v
}

func (mi *macroInterpreter) setMethod(v uint32) {
	mi.methodValue = v & 0xFFF
	mi.methodInc = v >> 12 & 0x3F
}

func (mi *macroInterpreter) send(v uint32) {
	mi.sender.macroWrite(mi.methodValue, v)
	mi.methodValue = (mi.methodValue + mi.methodInc) & 0xFFF
}

func (mi *macroInterpreter) fetchParam() uint32 {
	if mi.nextParam >= len(mi.params) {
		panic("tegra: macro fetched past its parameter list")
	}
	p := mi.params[mi.nextParam]
	mi.nextParam++
	return p
}

// macroImmediate sign-extends the 18-bit immediate in bits [31:14].
func macroImmediate(op uint32) int32 {
	return int32(op) >> 14
}
