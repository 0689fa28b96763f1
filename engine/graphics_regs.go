package engine

// Guest-visible register map of the 3D engine, in 32-bit word offsets.
// Guest drivers hard-code these; they must not be rearranged.
const (
	// NumRegs is the size of the real (and shadow) register file.
	// Methods at or above this address select macro slots.
	NumRegs = MacroMethodBase

	RegMacroUploadAddress = 0x45
	RegMacroUploadData    = 0x46
	RegMacroBind          = 0x47

	RegShadowRAMControl = 0x49

	// Inline upload block (see UploadRegs).
	RegUploadDestAddrHigh = 0x60
	RegUploadDestAddrLow  = 0x61
	RegUploadDestPitch    = 0x62
	RegUploadBlockDims    = 0x63
	RegUploadWidth        = 0x64
	RegUploadHeight       = 0x65
	RegUploadDepth        = 0x66
	RegUploadZ            = 0x67
	RegUploadX            = 0x68
	RegUploadY            = 0x69
	RegUploadLineLengthIn = 0x6A
	RegUploadLineCount    = 0x6B
	RegExecUpload         = 0x6C
	RegDataUpload         = 0x6D

	// Render target descriptors: 8 targets of 16 words each.
	RegRenderTargets    = 0x200
	RegRenderTargetsEnd = 0x280

	// Viewport transforms and scissors.
	RegViewports    = 0x300
	RegViewportsEnd = 0x340
	RegScissors     = 0x340
	RegScissorsEnd  = 0x360

	// Viewport depth range (near, far) as float bits.
	RegDepthRangeNear = 0x360
	RegDepthRangeFar  = 0x361

	// Depth buffer (zeta) descriptor.
	RegZeta    = 0x3F8
	RegZetaEnd = 0x3FE

	RegRasterizeEnable = 0x44F

	// Depth/stencil state. Comparison functions take GL enums.
	RegDepthTestEnable = 0x4B3
	RegDepthWriteMask  = 0x4BA
	RegDepthTestFunc   = 0x4C3

	// Blend state (GL enums for equations and factors).
	RegBlendSeparateAlpha = 0x4CF
	RegBlendEquationRGB   = 0x4D0
	RegBlendFactorSrcRGB  = 0x4D1
	RegBlendFactorDstRGB  = 0x4D2
	RegBlendEquationA     = 0x4D3
	RegBlendFactorSrcA    = 0x4D4
	RegBlendFactorDstA    = 0x4D5
	RegBlendEnable        = 0x4D8 // 8 words, one per target
	RegBlendEnableEnd     = 0x4E0

	RegStencilEnable        = 0x4E0
	RegStencilFrontOpFail   = 0x4E1
	RegStencilFrontOpZFail  = 0x4E2
	RegStencilFrontOpZPass  = 0x4E3
	RegStencilFrontFunc     = 0x4E4
	RegStencilFrontFuncRef  = 0x4E5
	RegStencilFrontFuncMask = 0x4E6
	RegStencilFrontMask     = 0x4E7

	RegFramebufferSRGB = 0x4EB

	RegStencilBackFunc     = 0x565
	RegStencilBackFuncRef  = 0x566
	RegStencilBackFuncMask = 0x567
	RegStencilBackMask     = 0x568

	RegFrontFace = 0x4DC
	RegCullFace  = 0x4DD

	RegPointSize = 0x548 // float bits

	// Conditional rendering.
	RegConditionAddrHigh = 0x544
	RegConditionAddrLow  = 0x545
	RegConditionMode     = 0x546

	RegCounterReset = 0x54C

	RegSeparateFragData = 0x54D

	// Color masks, one word per render target (RGBA nibbles).
	RegColorMask    = 0x55B
	RegColorMaskEnd = 0x563

	// Draw triggers. Begin takes a GL topology plus instance-control
	// bits; End fires the draw.
	RegVertexEndGL   = 0x585
	RegVertexBeginGL = 0x586

	// Non-indexed draws: first vertex and count.
	RegVertexArrayFirst = 0x5F4
	RegVertexArrayCount = 0x5F5

	// Indexed draws: index buffer address, format, first, count.
	RegIndexArrayAddrHigh = 0x5F6
	RegIndexArrayAddrLow  = 0x5F7
	RegIndexArrayCount    = 0x5F8

	RegClearBuffers = 0x674

	// Query block.
	RegQueryAddrHigh = 0x6C0
	RegQueryAddrLow  = 0x6C1
	RegQuerySequence = 0x6C2
	RegQueryGet      = 0x6C3

	// Constant buffer staging.
	RegCBSize     = 0x8E0
	RegCBAddrHigh = 0x8E1
	RegCBAddrLow  = 0x8E2
	RegCBPos      = 0x8E3
	RegCBData     = 0x8E4 // 16 data words
	RegCBDataEnd  = 0x8F4

	// Constant buffer binding: one 8-word group per shader stage.
	RegCBBind       = 0x904
	RegCBBindStride = 8
)

// GL enums accepted by the *_gl registers.
const (
	glZero     = 0x0000
	glOne      = 0x0001
	glFuncAdd  = 0x8006
	glAlways   = 0x0207
	glCW       = 0x0900
	glCCW      = 0x0901
	glBack     = 0x0405
)

// Instance-control bits of RegVertexBeginGL.
const (
	beginInstanceNext = 1 << 26
	beginInstanceCont = 1 << 27
	beginTopologyMask = 0xFFFF
)

// Clear bits of RegClearBuffers.
const (
	clearZ = 1 << iota
	clearS
	clearR
	clearG
	clearB
	clearA
)

// QueryGet field extraction.
const (
	queryOpRelease = 0
	queryOpAcquire = 1
	queryOpCounter = 2
	queryOpTrap    = 3

	queryShortBit = 1 << 28
)

func queryOp(raw uint32) uint32     { return raw & 3 }
func queryUnit(raw uint32) uint32   { return raw >> 12 & 0xF }
func querySelect(raw uint32) uint32 { return raw >> 23 & 0x1F }

// Query units; only Crop is implemented.
const queryUnitCrop = 0

// Condition modes for conditional rendering.
const (
	conditionAlways = iota
	conditionNever
	conditionResNonZero
	conditionEqual
	conditionNotEqual
)
