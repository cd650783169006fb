package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModule() *Module {
	return &Module{
		Strings: []string{"hello", "world"},
		Structs: []TypeEntry{{Name: "Point", Fields: []string{"x", "y"}}},
		Classes: []TypeEntry{{Name: "Animal", Fields: nil}},
		Functions: []Function{
			{
				Name:      "main",
				Arity:     0,
				Locals:    1,
				Code:      []byte{byte(OpConstInt), 42, 0, 0, 0, 0, 0, 0, 0, byte(OpRet)},
				StrConsts: []uint32{0},
			},
		},
		EntryFn:     0,
		InitFn:      -1,
		GlobalCount: 2,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := sampleModule()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))

	got, err := Read(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, m.Strings, got.Strings)
	assert.Equal(t, m.Structs, got.Structs)
	assert.Equal(t, m.Classes, got.Classes)
	assert.Equal(t, m.EntryFn, got.EntryFn)
	assert.Equal(t, m.InitFn, got.InitFn)
	assert.Equal(t, m.GlobalCount, got.GlobalCount)
	require.Len(t, got.Functions, 1)
	assert.Equal(t, m.Functions[0].Name, got.Functions[0].Name)
	assert.Equal(t, m.Functions[0].Code, got.Functions[0].Code)
}

func TestReadRejectsBadMagic(t *testing.T) {
	_, err := Read([]byte("NOTME\x01\x00\x00\x00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")
}

func TestReadRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write([]byte{99, 0, 0, 0})
	_, err := Read(buf.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestReadRejectsTruncatedInput(t *testing.T) {
	m := sampleModule()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))

	_, err := Read(buf.Bytes()[:buf.Len()-3])
	assert.Error(t, err)
}

func TestDisassembleMentionsFunctionAndOpcodes(t *testing.T) {
	m := sampleModule()
	var out bytes.Buffer
	Disassemble(&out, m)

	text := out.String()
	assert.Contains(t, text, "main")
	assert.Contains(t, text, "CONST_INT")
	assert.Contains(t, text, "RET")
}
