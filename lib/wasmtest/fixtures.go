// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wasmtest

// Strings returned by the decrypter fixture.
const (
	ExpectedValue = "expected-value"
	OtherValue    = "other"
	NoCaller      = "no-caller"
	ByCaller      = "by-caller"
	BigValue      = "big!"
	TinyValue     = "tiny"
)

// DegenerateUnits is what the degenerate routine returns: an embedded
// NUL and an unpaired high surrogate.
var DegenerateUnits = []uint16{'A', 0x0000, 0xD800, 'B'}

// HostModule is the import namespace the runtime provides to targets.
const HostModule = "defang"

const (
	expectedOffset   = 16
	otherOffset      = 64
	noCallerOffset   = 96
	byCallerOffset   = 128
	degenerateOffset = 160
	bigOffset        = 192
	tinyOffset       = 208
	heapStart        = 4096
)

// DecrypterFixture is a target module exposing string-like routines.
type DecrypterFixture struct {
	Binary []byte

	// Tokens of the module's functions.
	Decrypt     uint32 // (i32) -> str: ExpectedValue for 5, OtherValue otherwise
	CallerAware uint32 // () -> str: ByCaller when a caller token is set
	XorString   uint32 // (str, i32) -> str: each code unit xor key
	Widen       uint32 // (i64) -> str: BigValue above 2^32-1, TinyValue otherwise
	Degenerate  uint32 // () -> str: DegenerateUnits
	Add         uint32 // (i32, i32) -> i32: not string-like
	Trap        uint32 // () -> str: traps
	Spin        uint32 // () -> str: never returns
	Internal    uint32 // () -> str: not exported
	Alloc       uint32 // (i32) -> i32: bump allocator
}

var (
	str    = []ValType{I32, I32}
	oneI32 = []ValType{I32}
)

// Decrypter builds the decrypter fixture. When withCustom is set the
// module carries a "defang.meta" custom section holding "fixture".
func Decrypter(withCustom bool) DecrypterFixture {
	b := New()
	callerToken := b.ImportFunc(HostModule, "caller_token", nil, oneI32)
	b.Memory(1)
	heap := b.GlobalI32(true, heapStart)

	b.Data(expectedOffset, UTF16(ExpectedValue))
	b.Data(otherOffset, UTF16(OtherValue))
	b.Data(noCallerOffset, UTF16(NoCaller))
	b.Data(byCallerOffset, UTF16(ByCaller))
	b.Data(degenerateOffset, Units(DegenerateUnits...))
	b.Data(bigOffset, UTF16(BigValue))
	b.Data(tinyOffset, UTF16(TinyValue))

	var fixture DecrypterFixture

	fixture.Alloc = Token(b.ExportedFunc("alloc", oneI32, oneI32, nil,
		GlobalGet(heap),
		GlobalGet(heap), LocalGet(0), I32Add, I32Const(7), I32Add, I32Const(-8), I32And,
		GlobalSet(heap),
	))

	isFive := Code(LocalGet(0), I32Const(5), I32Eq)
	fixture.Decrypt = Token(b.ExportedFunc("decrypt", oneI32, str, nil,
		I32Const(expectedOffset), I32Const(otherOffset), isFive, Select,
		I32Const(int32(len(ExpectedValue))), I32Const(int32(len(OtherValue))), isFive, Select,
	))

	fixture.CallerAware = Token(b.ExportedFunc("caller_aware", nil, str, nil,
		I32Const(noCallerOffset), I32Const(byCallerOffset), Call(callerToken), I32Eqz, Select,
		I32Const(int32(len(NoCaller))),
	))

	// Locals: 0 ptr, 1 len, 2 key, 3 i.
	address := Code(LocalGet(0), LocalGet(3), I32Const(1), I32Shl, I32Add)
	fixture.XorString = Token(b.ExportedFunc("xor_string", []ValType{I32, I32, I32}, str, []ValType{I32},
		I32Const(0), LocalSet(3),
		Block(),
		Loop(),
		LocalGet(3), LocalGet(1), I32GeU, BrIf(1),
		address,
		address, I32Load16U(0), LocalGet(2), I32Xor,
		I32Store16(0),
		LocalGet(3), I32Const(1), I32Add, LocalSet(3),
		Br(0),
		End,
		End,
		LocalGet(0), LocalGet(1),
	))

	fixture.Widen = Token(b.ExportedFunc("widen", []ValType{I64}, str, nil,
		I32Const(bigOffset), I32Const(tinyOffset), LocalGet(0), I64Const(0xFFFFFFFF), I64GtU, Select,
		I32Const(4),
	))

	fixture.Degenerate = Token(b.ExportedFunc("degenerate", nil, str, nil,
		I32Const(degenerateOffset), I32Const(int32(len(DegenerateUnits))),
	))

	fixture.Add = Token(b.ExportedFunc("add", []ValType{I32, I32}, oneI32, nil,
		LocalGet(0), LocalGet(1), I32Add,
	))

	fixture.Trap = Token(b.ExportedFunc("trap", nil, str, nil, Unreachable))

	fixture.Spin = Token(b.ExportedFunc("spin", nil, str, nil,
		Loop(), Br(0), End,
		Unreachable,
	))

	fixture.Internal = Token(b.Func(nil, str, nil,
		I32Const(expectedOffset), I32Const(int32(len(ExpectedValue))),
	))

	if withCustom {
		b.Custom("defang.meta", []byte("fixture"))
	}

	fixture.Binary = b.Encode()
	return fixture
}

// Method decrypter fixture layout.
const (
	bodyDecrypterName = "decrypt_body"
	nameOffset        = 0
	blobAOffset       = 64
	blobBOffset       = 96
)

// Bodies recovered from the obfuscator fixture.
var (
	MethodAHeader = []byte{0x13, 0x30}
	MethodABody   = []byte{0xAA, 0xBB, 0xCC}
	MethodBHeader = []byte{}
	MethodBBody   = []byte{0x0b}
)

// ObfuscatorFixture is a module that registers a method body
// decrypter from its _initialize export.
type ObfuscatorFixture struct {
	Binary []byte

	Initialize   uint32
	DecryptBody  uint32
	MethodA      uint32
	MethodB      uint32
	RegisteredAs string
}

// Obfuscator builds the obfuscator fixture. registerName is the export
// _initialize reports as the body decrypter; pass "" for the real
// decrypter, or another export name to register one with the wrong
// signature.
func Obfuscator(registerName string) ObfuscatorFixture {
	if registerName == "" {
		registerName = bodyDecrypterName
	}

	b := New()
	register := b.ImportFunc(HostModule, "register_body_decrypter", []ValType{I32, I32}, nil)
	b.Memory(1)

	b.Data(nameOffset, []byte(registerName))
	blobA := append(append([]byte{byte(len(MethodAHeader))}, MethodAHeader...), MethodABody...)
	blobB := append(append([]byte{byte(len(MethodBHeader))}, MethodBHeader...), MethodBBody...)
	b.Data(blobAOffset, blobA)
	b.Data(blobBOffset, blobB)

	var fixture ObfuscatorFixture
	fixture.RegisteredAs = registerName

	fixture.Initialize = Token(b.ExportedFunc("_initialize", nil, nil, nil,
		I32Const(nameOffset), I32Const(int32(len(registerName))), Call(register),
	))

	// Function indices are assigned in definition order, so the two
	// method tokens are known before decrypt_body is emitted.
	decryptBodyIndex := uint32(2)
	methodA := Token(decryptBodyIndex + 1)
	methodB := Token(decryptBodyIndex + 2)

	isA := Code(LocalGet(0), I32Const(int32(methodA)), I32Eq)
	isB := Code(LocalGet(0), I32Const(int32(methodB)), I32Eq)
	fixture.DecryptBody = Token(b.ExportedFunc(bodyDecrypterName, oneI32, str, nil,
		I32Const(blobAOffset), I32Const(blobBOffset), isA, Select,
		I32Const(int32(len(blobA))),
		I32Const(int32(len(blobB))), I32Const(0), isB, Select,
		isA, Select,
	))

	fixture.MethodA = Token(b.ExportedFunc("method_a", nil, oneI32, nil, I32Const(1)))
	fixture.MethodB = Token(b.ExportedFunc("method_b", nil, oneI32, nil, I32Const(2)))

	if fixture.MethodA != methodA || fixture.MethodB != methodB {
		panic("wasmtest: obfuscator function layout changed")
	}

	fixture.Binary = b.Encode()
	return fixture
}

// Dependency builds a module exporting value() -> i32 returning v.
func Dependency(v int32) []byte {
	b := New()
	b.ExportedFunc("value", nil, oneI32, nil, I32Const(v))
	return b.Encode()
}

// Importer builds a module that imports value() from dependency and
// re-exports it as call_dependency.
func Importer(dependency string) []byte {
	b := New()
	value := b.ImportFunc(dependency, "value", nil, oneI32)
	b.Memory(1)
	b.ExportedFunc("call_dependency", nil, oneI32, nil, Call(value))
	return b.Encode()
}
