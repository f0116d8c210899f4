package codec

import (
	"testing"

	"github.com/danmuck/wmitlv/internal/protocol/tlv"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type mixedValue struct {
	fixed []byte
	words []uint32
	mac   []byte
	pairs [][]byte
	elems [][]byte
}

func drawMixed(t *rapid.T) mixedValue {
	return mixedValue{
		fixed: rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(t, "fixed"),
		words: rapid.SliceOfN(rapid.Uint32(), 0, 8).Draw(t, "words"),
		mac:   rapid.SliceOfN(rapid.Byte(), 6, 6).Draw(t, "mac"),
		pairs: rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 8, 8), 0, 4).Draw(t, "pairs"),
		elems: rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 8, 8), 0, 4).Draw(t, "elems"),
	}
}

func TestRoundTripProperty(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg, DefaultOptions())
	v := NewValidator(reg, DefaultOptions())
	adapter := NewAdapter(reg, DefaultOptions(), NewPool(2, 8, 512))

	rapid.Check(t, func(rt *rapid.T) {
		in := drawMixed(rt)
		buf, err := enc.Encode(msgMixed,
			Struct(in.fixed),
			Uint32s(in.words...),
			Bytes(in.mac),
			FixedStructs(in.pairs...),
			Structs(tagElem, in.elems...),
		)
		require.NoError(rt, err)

		n, err := v.Validate(msgMixed, buf)
		require.NoError(rt, err)
		require.Equal(rt, 5, n)

		block, err := adapter.Adapt(msgMixed, buf)
		require.NoError(rt, err)
		defer block.Release()

		require.Zero(rt, block.OwnedBytes())
		require.Equal(rt, in.fixed, block.Field(0).Body())
		require.Equal(rt, len(in.words), block.Field(1).Count)
		if len(in.words) > 0 {
			require.Equal(rt, in.words, block.Field(1).Uint32s())
		}
		require.Equal(rt, 6, block.Field(2).Count)
		require.Equal(rt, in.mac, block.Field(2).Data[:6])
		require.Equal(rt, len(in.pairs), block.Field(3).Count)
		for i, p := range in.pairs {
			require.Equal(rt, p, block.Field(3).Element(i))
		}
		require.Equal(rt, len(in.elems), block.Field(4).Count)
		for i, e := range in.elems {
			require.Equal(rt, e, block.Field(4).ElementBody(i))
		}
		require.False(rt, block.Field(5).Present)
	})
}

func TestPadPreservesLeadingBytesProperty(t *testing.T) {
	reg := testRegistry(t)
	adapter := NewAdapter(reg, DefaultOptions(), nil)

	rapid.Check(t, func(rt *rapid.T) {
		bodyLen := rapid.SampledFrom([]int{0, 4, 12, 16}).Draw(rt, "body_len")
		count := rapid.IntRange(1, 6).Draw(rt, "count")
		var wire []byte
		bodies := make([][]byte, count)
		for i := range bodies {
			bodies[i] = rapid.SliceOfN(rapid.Byte(), bodyLen, bodyLen).Draw(rt, "body")
			wire, _ = tlv.AppendField(wire, tagElem, bodies[i])
		}
		buf, _ := tlv.AppendField(nil, tagFixed, make([]byte, 4))
		buf, _ = tlv.AppendField(buf, tlv.TagArrayStruct, wire)

		block, err := adapter.Adapt(msgScenario, buf)
		require.NoError(rt, err)
		defer block.Release()

		elems := block.Field(1)
		require.Equal(rt, count, elems.Count)
		keep := min(bodyLen, 8)
		for i := 0; i < count; i++ {
			got := elems.Element(i)
			require.Len(rt, got, 12)
			h, err := tlv.DecodeHeader(got)
			require.NoError(rt, err)
			require.Equal(rt, tagElem, h.Tag)
			require.Equal(rt, uint16(8), h.Length)
			body := elems.ElementBody(i)
			require.Equal(rt, bodies[i][:keep], body[:keep])
			for _, b := range body[keep:] {
				require.Zero(rt, b)
			}
		}
	})
}
