package vdev

import "github.com/vkngwrapper/foundry/gputils"

// StaticRenderState is the render state that participates in pipeline
// compilation. It is a plain comparable struct so it can sit directly inside
// pipeline cache keys; changing any field marks the pipeline dirty.
type StaticRenderState struct {
	DepthTest    bool
	DepthWrite   bool
	DepthCompare CompareOp
	DepthBias    bool

	StencilTest           bool
	StencilFrontCompare   CompareOp
	StencilFrontFail      StencilOp
	StencilFrontPass      StencilOp
	StencilFrontDepthFail StencilOp
	StencilBackCompare    CompareOp
	StencilBackFail       StencilOp
	StencilBackPass       StencilOp
	StencilBackDepthFail  StencilOp

	Cull             CullMode
	Front            FrontFace
	Topology         PrimitiveTopology
	PrimitiveRestart bool
	Wireframe        bool

	BlendEnable   bool
	SrcColorBlend BlendFactor
	DstColorBlend BlendFactor
	ColorBlendOp  BlendOp
	SrcAlphaBlend BlendFactor
	DstAlphaBlend BlendFactor
	AlphaBlendOp  BlendOp

	ColorWriteMask  uint32
	AlphaToCoverage bool
}

// OpaqueRenderState is the "known common case" state: triangle lists,
// back-face culling, depth test and write on, no blending.
func OpaqueRenderState() StaticRenderState {
	return StaticRenderState{
		DepthTest:      true,
		DepthWrite:     true,
		DepthCompare:   CompareOpLessOrEqual,
		Cull:           CullModeBack,
		Front:          FrontFaceCounterClockwise,
		Topology:       PrimitiveTopologyTriangleList,
		ColorWriteMask: 0xf,
	}
}

func (s *StaticRenderState) hash(h *gputils.Hasher) {
	h.Bool(s.DepthTest)
	h.Bool(s.DepthWrite)
	h.I32(int32(s.DepthCompare))
	h.Bool(s.DepthBias)
	h.Bool(s.StencilTest)
	h.I32(int32(s.StencilFrontCompare))
	h.I32(int32(s.StencilFrontFail))
	h.I32(int32(s.StencilFrontPass))
	h.I32(int32(s.StencilFrontDepthFail))
	h.I32(int32(s.StencilBackCompare))
	h.I32(int32(s.StencilBackFail))
	h.I32(int32(s.StencilBackPass))
	h.I32(int32(s.StencilBackDepthFail))
	h.I32(int32(s.Cull))
	h.I32(int32(s.Front))
	h.I32(int32(s.Topology))
	h.Bool(s.PrimitiveRestart)
	h.Bool(s.Wireframe)
	h.Bool(s.BlendEnable)
	h.I32(int32(s.SrcColorBlend))
	h.I32(int32(s.DstColorBlend))
	h.I32(int32(s.ColorBlendOp))
	h.I32(int32(s.SrcAlphaBlend))
	h.I32(int32(s.DstAlphaBlend))
	h.I32(int32(s.AlphaBlendOp))
	h.U32(s.ColorWriteMask)
	h.Bool(s.AlphaToCoverage)
}

// DynamicRenderState is flushed as command-buffer commands and never affects
// pipeline identity.
type DynamicRenderState struct {
	DepthBiasConstant float32
	DepthBiasSlope    float32

	StencilFrontReference   uint32
	StencilFrontCompareMask uint32
	StencilFrontWriteMask   uint32
}
