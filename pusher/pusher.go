// Package pusher walks guest command lists and routes decoded methods
// to the bound engines.
//
// A command list is a sequence of 32-bit words. Each group starts with
// a header naming a method, a subchannel and a word count; the words
// that follow are arguments. Methods below the puller threshold are
// handled by the channel puller itself (semaphores, syncpoints, object
// binding); everything else goes to the engine bound on the header's
// subchannel.
package pusher

import (
	"encoding/binary"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
)

// Submission modes encoded in header bits [31:29].
const (
	modeIncreasing    = 1
	modeNonIncreasing = 3
	modeInline        = 4
	modeIncreaseOnce  = 5
)

// CommandHeader is one decoded group header.
type CommandHeader struct {
	Method     uint32 // bits [12:0]
	Subchannel uint32 // bits [15:13]
	Count      uint32 // bits [28:16]; inline argument for the inline mode
	Mode       uint32 // bits [31:29]
}

// DecodeHeader splits a raw header word.
func DecodeHeader(raw uint32) CommandHeader {
	return CommandHeader{
		Method:     raw & 0x1FFF,
		Subchannel: raw >> 13 & 7,
		Count:      raw >> 16 & 0x1FFF,
		Mode:       raw >> 29 & 7,
	}
}

// EncodeHeader packs a group header; test and HLE helper.
func EncodeHeader(mode, subchannel, method, count uint32) uint32 {
	return method&0x1FFF | subchannel&7<<13 | count&0x1FFF<<16 | mode&7<<29
}

// CommandList names one guest submission. Prefetched lists carry
// their words inline; otherwise the words are read from GPU memory at
// dispatch time.
type CommandList struct {
	Addr core.GpuAddr
	Size uint32 // words

	// Prefetch holds the words for lists submitted without a guest
	// memory round trip.
	Prefetch []uint32
}

// dmaState is the in-flight header group.
type dmaState struct {
	method         uint32
	subchannel     uint32
	count          uint32
	nonIncrementing bool
	incrementOnce  bool
}

// DmaPusher consumes submitted command lists and dispatches their
// methods. It is driven from a single goroutine.
type DmaPusher struct {
	mm       *memory.Manager
	puller   *Puller
	accuracy core.Accuracy

	queue []CommandList
	state dmaState

	readBuf []byte
	wordBuf []uint32
}

// NewDmaPusher creates a pusher over the given memory manager and
// puller.
func NewDmaPusher(mm *memory.Manager, puller *Puller, accuracy core.Accuracy) *DmaPusher {
	return &DmaPusher{mm: mm, puller: puller, accuracy: accuracy}
}

// Push queues one command list for the next dispatch.
func (p *DmaPusher) Push(list CommandList) {
	p.queue = append(p.queue, list)
}

// DispatchCalls drains the queue, decoding and routing every method.
func (p *DmaPusher) DispatchCalls() {
	for len(p.queue) > 0 {
		list := p.queue[0]
		p.queue = p.queue[:copy(p.queue, p.queue[1:])]
		p.processList(list)
	}
}

func (p *DmaPusher) processList(list CommandList) {
	words := list.Prefetch
	if words == nil {
		words = p.fetchWords(list.Addr, list.Size)
	}
	p.ProcessEntries(words)
}

// fetchWords reads a command list from GPU memory. The safe read path
// is used at the extreme coherence level so pending cache flushes are
// observed; otherwise the raw guest bytes are taken as-is.
func (p *DmaPusher) fetchWords(addr core.GpuAddr, size uint32) []uint32 {
	n := int(size) * 4
	if cap(p.readBuf) < n {
		p.readBuf = make([]byte, n)
	}
	buf := p.readBuf[:n]
	if p.accuracy == core.AccuracyExtreme {
		p.mm.ReadBlock(addr, buf)
	} else {
		p.mm.ReadBlockUnsafe(addr, buf)
	}

	if cap(p.wordBuf) < int(size) {
		p.wordBuf = make([]uint32, size)
	}
	words := p.wordBuf[:size]
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return words
}

// ProcessEntries runs the header state machine over a word stream.
func (p *DmaPusher) ProcessEntries(words []uint32) {
	for i := 0; i < len(words); i++ {
		if p.state.count == 0 {
			p.decodeHeader(words[i])
			continue
		}

		if p.state.nonIncrementing {
			// A run of words into one method becomes a single
			// multi-method call so engines can take the block at once.
			n := int(p.state.count)
			if rem := len(words) - i; n > rem {
				n = rem
			}
			p.state.count -= uint32(n)
			p.callMultiMethod(words[i:i+n], p.state.count)
			i += n - 1
			continue
		}

		p.state.count--
		p.callMethod(words[i])
		p.state.method++
		if p.state.incrementOnce {
			p.state.nonIncrementing = true
			p.state.incrementOnce = false
		}
	}
}

func (p *DmaPusher) decodeHeader(raw uint32) {
	h := DecodeHeader(raw)
	switch h.Mode {
	case modeIncreasing:
		p.state = dmaState{method: h.Method, subchannel: h.Subchannel, count: h.Count}
	case modeNonIncreasing:
		p.state = dmaState{method: h.Method, subchannel: h.Subchannel, count: h.Count,
			nonIncrementing: true}
	case modeIncreaseOnce:
		p.state = dmaState{method: h.Method, subchannel: h.Subchannel, count: h.Count,
			incrementOnce: true}
	case modeInline:
		p.state = dmaState{method: h.Method, subchannel: h.Subchannel}
		p.callMethod(h.Count)
	default:
		warnOnce("tegra: command header with invalid submission mode",
			"mode", h.Mode, "raw", raw)
	}
}

func (p *DmaPusher) callMethod(arg uint32) {
	if p.state.method < PullerMethodThreshold {
		p.puller.CallPullerMethod(p.state.method, p.state.subchannel, arg)
		return
	}
	e := p.puller.Subchannel(p.state.subchannel)
	if e == nil {
		warnOnce("tegra: method for unbound subchannel",
			"subchannel", p.state.subchannel, "method", p.state.method)
		return
	}
	e.CallMethod(p.state.method, arg, p.state.count == 0)
}

func (p *DmaPusher) callMultiMethod(data []uint32, pending uint32) {
	if p.state.method < PullerMethodThreshold {
		for _, v := range data {
			p.puller.CallPullerMethod(p.state.method, p.state.subchannel, v)
		}
		return
	}
	e := p.puller.Subchannel(p.state.subchannel)
	if e == nil {
		warnOnce("tegra: method for unbound subchannel",
			"subchannel", p.state.subchannel, "method", p.state.method)
		return
	}
	e.CallMultiMethod(p.state.method, data, pending)
}
