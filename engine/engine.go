// Package engine implements the register-based GPU engines that
// interpret method writes routed by the DMA pusher.
//
// Five engines share one contract: a dense register file of 32-bit
// words addressed by method id, where a small set of trigger registers
// have observable side effects (draws, clears, copies, uploads). The
// register layouts are guest-visible and must not be rearranged.
//
// Engine implementations:
//
//   - Graphics: the 3D engine, including the macro interpreter, shadow
//     register file, dirty tracking, and query/condition handling.
//   - Compute: compute grid dispatch plus inline upload.
//   - CopyEngine: the DMA copy engine (pitch and block-linear).
//   - Blit2D: 2D surface blits.
//   - InlineMemory: inline data pushes into GPU memory.
package engine

// Engine is the method-dispatch contract shared by all engines.
type Engine interface {
	// CallMethod writes the register file at method and runs any
	// trigger side effect. isLast reports whether this is the final
	// call of the current header batch; the 3D engine uses it to close
	// macro parameter lists.
	CallMethod(method uint32, arg uint32, isLast bool)

	// CallMultiMethod delivers a batch of data words to method.
	// pending is the number of words still queued in the current
	// header after data, letting engines coalesce bulk streams.
	CallMultiMethod(method uint32, data []uint32, pending uint32)
}

// callSingly delivers a multi-method batch as individual calls; the
// default for engines with no bulk triggers. A word is final only
// when nothing of its header group remains queued, so a group split
// across command list fragments keeps collecting.
func callSingly(e Engine, method uint32, data []uint32, pending uint32) {
	for i, v := range data {
		e.CallMethod(method, v, pending == 0 && i == len(data)-1)
	}
}
