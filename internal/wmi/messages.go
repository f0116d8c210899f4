package wmi

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/wmitlv/internal/protocol/abi"
	"github.com/danmuck/wmitlv/internal/protocol/codec"
	"github.com/danmuck/wmitlv/internal/protocol/schema"
)

// Fixed parameter layouts used by the handshake. Offsets are into the
// structure body, after its TLV header.
const (
	initABIOffset      = 0
	initChunksOffset   = abi.WireSize
	serviceReadyBuild  = 0
	serviceReadyABI    = 4
	readyABIOffset     = 0
	readyStatusOffset  = abi.WireSize
	resourceConfigBody = 64
	halRegCapsBody     = 24
	serviceBitmapWords = 4
	defaultNumVdevs    = 3
	defaultNumPeers    = 32
)

func structBody(reg *schema.Registry, id uint32, order int) int {
	attr, ok := reg.AttributeAt(id, order)
	if !ok {
		panic(fmt.Sprintf("wmi: no attribute %d for 0x%x in %s", order, id, reg.Name()))
	}
	return int(attr.StructSize) - 4
}

// InitCommand builds the values of WMI_INIT_CMDID announcing version.
func InitCommand(version abi.Version) []codec.Value {
	fixed := make([]byte, structBody(schema.Commands(), schema.CmdInit, 0))
	v, _ := version.MarshalBinary()
	copy(fixed[initABIOffset:], v)
	binary.LittleEndian.PutUint32(fixed[initChunksOffset:], 0)

	res := make([]byte, resourceConfigBody)
	binary.LittleEndian.PutUint32(res[0:], defaultNumVdevs)
	binary.LittleEndian.PutUint32(res[4:], defaultNumPeers)
	return []codec.Value{
		codec.Struct(fixed),
		codec.Struct(res),
		codec.Structs(schema.TagHostMemoryChunk),
	}
}

// ServiceReadyEvent builds the payload firmware sends first, carrying its
// build number and ABI version.
func ServiceReadyEvent(version abi.Version, build uint32) ([]byte, error) {
	events := schema.Events()
	fixed := make([]byte, structBody(events, schema.EvtServiceReady, 0))
	binary.LittleEndian.PutUint32(fixed[serviceReadyBuild:], build)
	v, _ := version.MarshalBinary()
	copy(fixed[serviceReadyABI:], v)
	return codec.NewEncoder(events, codec.DefaultOptions()).Encode(schema.EvtServiceReady,
		codec.Struct(fixed),
		codec.Uint32s(make([]uint32, serviceBitmapWords)...),
		codec.Struct(make([]byte, halRegCapsBody)),
		codec.Structs(schema.TagMemoryRequirements),
	)
}

// ReadyEvent builds the payload firmware sends once it accepted INIT.
func ReadyEvent(version abi.Version, status uint32) ([]byte, error) {
	events := schema.Events()
	fixed := make([]byte, structBody(events, schema.EvtReady, 0))
	v, _ := version.MarshalBinary()
	copy(fixed[readyABIOffset:], v)
	binary.LittleEndian.PutUint32(fixed[readyStatusOffset:], status)
	return codec.NewEncoder(events, codec.DefaultOptions()).Encode(schema.EvtReady, codec.Struct(fixed))
}

func decodeVersion(body []byte, off int) (abi.Version, error) {
	var v abi.Version
	if len(body) < off {
		return v, abi.ErrShortVersion
	}
	err := v.UnmarshalBinary(body[off:])
	return v, err
}
