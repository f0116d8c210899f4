package schema

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/wmitlv/internal/protocol/tlv"
	"github.com/danmuck/wmitlv/internal/testutil/testlog"
	"gopkg.in/yaml.v3"
)

func TestCompiledTablesBuild(t *testing.T) {
	testlog.Start(t)
	cmds := Commands()
	if cmds.Len() != len(commandTable) {
		t.Fatalf("expected %d commands, got %d", len(commandTable), cmds.Len())
	}
	evts := Events()
	if evts.Len() != len(eventTable) {
		t.Fatalf("expected %d events, got %d", len(eventTable), evts.Len())
	}
	if Commands() != cmds {
		t.Fatalf("command registry should be built once")
	}
}

func TestLookupKeysOnLow24Bits(t *testing.T) {
	testlog.Start(t)
	word := MakeWord(CmdStartScan, 0x05)
	if Hint(word) != 0x05 || MessageID(word) != CmdStartScan {
		t.Fatalf("word packing wrong: 0x%x", word)
	}
	e, ok := Commands().Lookup(word)
	if !ok || e.Name != "start_scan" {
		t.Fatalf("lookup by word failed: ok=%v entry=%+v", ok, e)
	}
}

func TestLookupMissIsRecoverable(t *testing.T) {
	testlog.Start(t)
	if _, ok := Commands().Lookup(0xABCDE); ok {
		t.Fatalf("expected lookup miss")
	}
	if _, ok := Commands().AttributeCount(0xABCDE); ok {
		t.Fatalf("expected attribute count miss")
	}
	if _, ok := Commands().AttributeAt(CmdInit, 99); ok {
		t.Fatalf("expected attribute miss past end")
	}
	var nilReg *Registry
	if _, ok := nilReg.Lookup(CmdInit); ok {
		t.Fatalf("nil registry should miss")
	}
}

func TestAttributeAtFollowsOrder(t *testing.T) {
	testlog.Start(t)
	n, ok := Commands().AttributeCount(CmdInit)
	if !ok || n != 4 {
		t.Fatalf("unexpected init attribute count=%d ok=%v", n, ok)
	}
	for i := 0; i < n; i++ {
		a, ok := Commands().AttributeAt(CmdInit, i)
		if !ok || int(a.Order) != i {
			t.Fatalf("attribute %d out of order: %+v", i, a)
		}
	}
	a, _ := Commands().AttributeAt(CmdInit, 2)
	if a.Kind() != KindArrayStruct || !a.Variable {
		t.Fatalf("host_mem_chunks should be a variable struct array: %v", a)
	}
	e, _ := Commands().Lookup(CmdInit)
	if e.RequiredCount() != 3 {
		t.Fatalf("expected 3 required attributes, got %d", e.RequiredCount())
	}
}

func TestBuildRejectsDuplicateMessage(t *testing.T) {
	testlog.Start(t)
	_, err := NewBuilder("dup").Add(
		Msg(0x10, "a", Struct("p", 40, 8)),
		Msg(MakeWord(0x10, 3), "b", Struct("p", 40, 8)),
	).Build()
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.MessageID != 0x10 {
		t.Fatalf("expected LoadError for 0x10, got %v", err)
	}
}

func TestBuildRejectsOrderGap(t *testing.T) {
	testlog.Start(t)
	a := Struct("p", 40, 8)
	b := Uint32Array("list")
	b.Order = 2
	_, err := NewBuilder("gap").Add(Entry{MessageID: 1, Attributes: []AttributeDescriptor{a, b}}).Build()
	if !errors.Is(err, ErrOrderGap) {
		t.Fatalf("expected ErrOrderGap, got %v", err)
	}
}

func TestBuildRejectsArrayInvariantViolations(t *testing.T) {
	testlog.Start(t)
	fixedNoSize := AttributeDescriptor{TagID: tlv.TagArrayUint32, StructSize: 4}
	variableWithSize := AttributeDescriptor{TagID: tlv.TagArrayByte, StructSize: 1, Variable: true, ArraySize: 3, HasArraySize: true}
	structVariable := AttributeDescriptor{TagID: 40, StructSize: 8, Variable: true}
	reserved := AttributeDescriptor{TagID: 3, StructSize: 8}
	for i, a := range []AttributeDescriptor{fixedNoSize, variableWithSize, structVariable, reserved} {
		_, err := NewBuilder("bad").Add(Msg(1, "m", a)).Build()
		if !errors.Is(err, ErrInvalidDescriptor) {
			t.Fatalf("case %d: expected ErrInvalidDescriptor, got %v", i, err)
		}
	}
}

func TestBuildRejectsOptionalBeforeRequired(t *testing.T) {
	testlog.Start(t)
	_, err := NewBuilder("opt").Add(Msg(1, "m",
		Struct("p", 40, 8).AsOptional(),
		Uint32Array("list"),
	)).Build()
	if !errors.Is(err, ErrOptionalNotTrail) {
		t.Fatalf("expected ErrOptionalNotTrail, got %v", err)
	}
}

func TestExpectedLength(t *testing.T) {
	if n, ok := Struct("p", 40, 12).ExpectedLength(); !ok || n != 8 {
		t.Fatalf("struct expected length=%d ok=%v", n, ok)
	}
	if n, ok := ByteArrayN("mac", 6).ExpectedLength(); !ok || n != 8 {
		t.Fatalf("byte array should round to 8, got %d", n)
	}
	if n, ok := Uint32ArrayN("bm", 4).ExpectedLength(); !ok || n != 16 {
		t.Fatalf("uint32 array expected 16, got %d", n)
	}
	if _, ok := Uint32Array("list").ExpectedLength(); ok {
		t.Fatalf("variable arrays have no expected length")
	}
}

func TestPackWordLayout(t *testing.T) {
	testlog.Start(t)
	w, err := PackWord(Uint32ArrayN("bm", 4))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if w.Tag() != tlv.TagArrayUint32 || w.SizeClass() != 4 || w.Variable() {
		t.Fatalf("unexpected word fields: 0x%08x", uint32(w))
	}
	if n, ok := w.ArraySize(); !ok || n != 4 {
		t.Fatalf("unexpected array size %d ok=%v", n, ok)
	}
	if uint32(w) != uint32(tlv.TagArrayUint32)|4<<12|4<<21 {
		t.Fatalf("bit layout mismatch: 0x%08x", uint32(w))
	}

	v, err := PackWord(StructArray("chunks", 16))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if _, ok := v.ArraySize(); ok || !v.Variable() {
		t.Fatalf("variable array should carry sentinel size: 0x%08x", uint32(v))
	}

	big, _ := PackWord(Struct("big", 40, 1024))
	if big.SizeClass() != wordSizeMask {
		t.Fatalf("size class should saturate, got %d", big.SizeClass())
	}
}

func TestPackWordRejectsOutOfRange(t *testing.T) {
	if _, err := PackWord(Struct("wide", tlv.MaxTag+1, 8)); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor for wide tag, got %v", err)
	}
	if _, err := PackWord(Uint32ArrayN("huge", ArraySizeInvalid)); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor for sentinel size, got %v", err)
	}
}

func TestCompiledTablesLoadFromPackedWords(t *testing.T) {
	testlog.Start(t)
	for _, tc := range []struct {
		reg   *Registry
		table []Entry
	}{{Commands(), commandTable}, {Events(), eventTable}} {
		for _, want := range tc.table {
			got, ok := tc.reg.Lookup(want.MessageID)
			if !ok || len(got.Attributes) != len(want.Attributes) {
				t.Fatalf("%s: message 0x%x missing or wrong length", tc.reg.Name(), want.MessageID)
			}
			for i := range want.Attributes {
				if got.Attributes[i] != want.Attributes[i] {
					t.Fatalf("%s 0x%x attribute %d: got %v want %v", tc.reg.Name(), want.MessageID, i, got.Attributes[i], want.Attributes[i])
				}
			}
		}
	}

	rows, err := Events().Packed()
	if err != nil {
		t.Fatalf("packed: %v", err)
	}
	again, err := LoadPacked("again", rows)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Len() != Events().Len() {
		t.Fatalf("expected %d entries after reload, got %d", Events().Len(), again.Len())
	}
}

func TestLoadPackedRejectsRaggedRows(t *testing.T) {
	testlog.Start(t)
	w, _ := PackWord(Struct("p", 40, 8))
	_, err := LoadPacked("bad", []PackedEntry{{MessageID: 1, Words: []Word{w}, Sizes: []uint32{8}, Names: []string{"a", "b"}, Required: 1}})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestBuildRejectsSinceOutOfOrder(t *testing.T) {
	testlog.Start(t)
	_, err := NewBuilder("since").Add(Msg(0x1001, "m",
		Struct("a", 40, 8).Since(5),
		Struct("b", 41, 8).Since(4),
	)).Build()
	if !errors.Is(err, ErrSinceOrder) {
		t.Fatalf("expected ErrSinceOrder, got %v", err)
	}
}

func TestAtMinorWithholdsNewerAttributes(t *testing.T) {
	testlog.Start(t)
	reg := NewBuilder("since").Add(
		Msg(0x1001, "grown",
			Struct("fixed", 40, 8),
			Uint32Array("v4").AsOptional().Since(4),
			Uint32Array("v5").AsOptional().Since(5),
		),
		Msg(0x1002, "plain", Struct("fixed", 40, 8)),
	).MustBuild()

	if same := reg.AtMinor(5); same != reg {
		t.Fatalf("expected the registry itself when nothing is withheld")
	}

	at3 := reg.AtMinor(3)
	if minor, ok := at3.Minor(); !ok || minor != 3 {
		t.Fatalf("expected minor 3, got %d %v", minor, ok)
	}
	e, _ := at3.Lookup(0x1001)
	if len(e.Attributes) != 1 || e.Withheld != 2 {
		t.Fatalf("expected 1 attribute and 2 withheld, got %d and %d", len(e.Attributes), e.Withheld)
	}
	if n, _ := reg.AttributeCount(0x1001); n != 3 {
		t.Fatalf("base registry changed: %d attributes", n)
	}
	plainBase, _ := reg.Lookup(0x1002)
	plain, _ := at3.Lookup(0x1002)
	if plain != plainBase {
		t.Fatalf("untouched entry should be shared")
	}

	e4, _ := reg.AtMinor(4).Lookup(0x1001)
	if len(e4.Attributes) != 2 || e4.Withheld != 1 {
		t.Fatalf("expected 2 attributes at minor 4, got %d", len(e4.Attributes))
	}
}

func TestCompiledTablesDowngrade(t *testing.T) {
	testlog.Start(t)
	init4, _ := Commands().AtMinor(4).Lookup(CmdInit)
	if init4.Withheld != 1 || init4.Attributes[len(init4.Attributes)-1].Name != "host_mem_chunks" {
		t.Fatalf("expected hw_mode withheld at minor 4, got %v", init4.Attributes)
	}
	ready3, _ := Events().AtMinor(3).Lookup(EvtReady)
	if len(ready3.Attributes) != 1 {
		t.Fatalf("expected ready to lose mac_addr_list at minor 3, got %d", len(ready3.Attributes))
	}
}

func TestLoadPackedRejectsSizeClassMismatch(t *testing.T) {
	testlog.Start(t)
	w, _ := PackWord(Struct("p", 40, 8))
	_, err := LoadPacked("bad", []PackedEntry{{MessageID: 1, Words: []Word{w}, Sizes: []uint32{12}, Required: 1}})
	if !errors.Is(err, ErrWordMismatch) {
		t.Fatalf("expected ErrWordMismatch, got %v", err)
	}
}

func TestExportYAML(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	reg := NewBuilder("demo").Add(Msg(0x1001, "demo",
		Struct("fixed_param", 40, 8),
		Uint32ArrayN("bitmap", 4).AsOptional(),
	)).MustBuild()
	if err := ExportYAML(&buf, reg); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(buf.String(), "id: \"0x1001\"") && !strings.Contains(buf.String(), "id: 0x1001") {
		t.Fatalf("missing id in yaml:\n%s", buf.String())
	}
	var doc struct {
		Registry string `yaml:"registry"`
		Messages []struct {
			Name       string `yaml:"name"`
			Attributes []struct {
				Kind      string  `yaml:"kind"`
				ArraySize *uint32 `yaml:"array_size"`
				Optional  bool    `yaml:"optional"`
			} `yaml:"attributes"`
		} `yaml:"messages"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("reparse yaml: %v", err)
	}
	if doc.Registry != "demo" || len(doc.Messages) != 1 || len(doc.Messages[0].Attributes) != 2 {
		t.Fatalf("unexpected yaml document: %+v", doc)
	}
	bm := doc.Messages[0].Attributes[1]
	if bm.Kind != "array_uint32" || bm.ArraySize == nil || *bm.ArraySize != 4 || !bm.Optional {
		t.Fatalf("unexpected bitmap attribute: %+v", bm)
	}
}
