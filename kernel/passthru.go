package kernel

import (
	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg/debugger"
)

type rtlInitUnicodeStringParams struct {
	DestinationString PVOID
	SourceString      PCWSTR
}

type rtlInitAnsiStringParams struct {
	DestinationString PVOID
	SourceString      PCSTR
}

type rtlCopyUnicodeStringParams struct {
	DestinationString PVOID
	SourceString      PUNICODE_STRING
}

type rtlAnsiStringToUnicodeStringParams struct {
	DestinationString         PVOID
	SourceString              PANSI_STRING
	AllocateDestinationString BOOLEAN
}

type rtlUnicodeStringToAnsiStringParams struct {
	DestinationString         PVOID
	SourceString              PUNICODE_STRING
	AllocateDestinationString BOOLEAN
}

type wcsnicmpParams struct {
	String1 PCWSTR
	String2 PCWSTR
	Count   SIZE_T
}

type strnicmpParams struct {
	String1 PCSTR
	String2 PCSTR
	Count   SIZE_T
}

type wcsnicmpLParams struct {
	String1 PCWSTR
	String2 PCWSTR
	Count   SIZE_T
	Locale  PVOID
}

type strnicmpLParams struct {
	String1 PCSTR
	String2 PCSTR
	Count   SIZE_T
	Locale  PVOID
}

type wcschrParams struct {
	Str PCWSTR
	C   USHORT
}

type psGetVersionParams struct {
	MajorVersion PVOID
	MinorVersion PVOID
	BuildNumber  PVOID
	CSDVersion   PVOID
}

type rtlCompareMemoryParams struct {
	Source1 PVOID
	Source2 PVOID
	Length  SIZE_T
}

type vsnwprintfParams struct {
	Buffer PVOID
	Count  SIZE_T
	Format PCWSTR
	Argptr PVOID
}

type mbtowcParams struct {
	Wchar  PVOID
	Mbchar PVOID
	Count  SIZE_T
}

type mbtowcLParams struct {
	Wchar  PVOID
	Mbchar PVOID
	Count  SIZE_T
	Locale PVOID
}

type rtlAnsiCharToUnicodeCharParams struct {
	SourceCharacter PVOID
}

type rtlMultiByteToUnicodeNParams struct {
	UnicodeString     PVOID
	MaxBytesInUnicode ULONG
	BytesInUnicode    PVOID
	MultiByteString   PVOID
	BytesInMultiByte  ULONG
}

type ioStartPacketParams struct {
	DeviceObject   PVOID
	Irp            PVOID
	Key            PVOID
	CancelFunction PVOID
}

type ioAcquireCancelSpinLockParams struct {
	Irql PVOID
}

type exSystemTimeToLocalTimeParams struct {
	SystemTime PVOID
	LocalTime  PVOID
}

type rtlTimeToTimeFieldsParams struct {
	Time       PVOID
	TimeFields PVOID
}

type vsprintfSParams struct {
	Buffer           PVOID
	NumberOfElements SIZE_T
	Format           PCSTR
	Argptr           PVOID
}

type vsprintfSLParams struct {
	Buffer           PVOID
	NumberOfElements SIZE_T
	Format           PCSTR
	Locale           PVOID
	Argptr           PVOID
}

type vswprintfSParams struct {
	Buffer           PVOID
	NumberOfElements SIZE_T
	Format           PCWSTR
	Argptr           PVOID
}

type vswprintfSLParams struct {
	Buffer           PVOID
	NumberOfElements SIZE_T
	Format           PCWSTR
	Locale           PVOID
	Argptr           PVOID
}

// passthruRoutines are observed on their way into the native implementation.
func passthruRoutines() []windows.Routine {
	const (
		std = debugger.Calling_Stdcall
		c   = debugger.Calling_Cdecl
	)
	return []windows.Routine{
		passthru[rtlInitUnicodeStringParams]("RtlInitUnicodeString", std),
		passthru[rtlCopyUnicodeStringParams]("RtlCopyUnicodeString", std),
		passthru[rtlAnsiStringToUnicodeStringParams]("RtlAnsiStringToUnicodeString", std),
		passthru[rtlInitAnsiStringParams]("RtlInitAnsiString", std),
		passthru[rtlUnicodeStringToAnsiStringParams]("RtlUnicodeStringToAnsiString", std),
		passthru[wcsnicmpParams]("_wcsnicmp", c),
		passthru[strnicmpParams]("_strnicmp", c),
		passthru[strnicmpParams]("_mbsnicmp", c),
		passthru[strnicmpLParams]("_strnicmp_l", c),
		passthru[wcsnicmpLParams]("_wcsnicmp_l", c),
		passthru[strnicmpLParams]("_mbsnicmp_l", c),
		passthru[wcschrParams]("wcschr", c),
		passthru[psGetVersionParams]("PsGetVersion", std),
		passthru[rtlCompareMemoryParams]("RtlCompareMemory", std),
		passthru[vsnwprintfParams]("_vsnwprintf", c),
		passthru[mbtowcParams]("mbtowc", c),
		passthru[mbtowcLParams]("_mbtowc_l", c),
		passthru[rtlAnsiCharToUnicodeCharParams]("RtlAnsiCharToUnicodeChar", std),
		passthru[rtlMultiByteToUnicodeNParams]("RtlMultiByteToUnicodeN", std),
		passthru[ioStartPacketParams]("IoStartPacket", std),
		passthru[ioAcquireCancelSpinLockParams]("IoAcquireCancelSpinLock", std),
		passthru[objectParams]("ObfReferenceObject", debugger.Calling_Fastcall),
		passthru[exSystemTimeToLocalTimeParams]("ExSystemTimeToLocalTime", std),
		passthru[rtlTimeToTimeFieldsParams]("RtlTimeToTimeFields", std),
		passthru[vsprintfSParams]("vsprintf_s", c),
		passthru[vsprintfSLParams]("_vsprintf_s_l", c),
		passthru[vswprintfSParams]("vswprintf_s", c),
		passthru[vswprintfSLParams]("_vswprintf_s_l", c),
	}
}
