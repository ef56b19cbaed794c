package windows

import "fmt"

type NTSTATUS uint32

const (
	STATUS_SUCCESS                NTSTATUS = 0x00000000
	STATUS_TIMEOUT                NTSTATUS = 0x00000102
	STATUS_PENDING                NTSTATUS = 0x00000103
	STATUS_UNSUCCESSFUL           NTSTATUS = 0xC0000001
	STATUS_NOT_IMPLEMENTED        NTSTATUS = 0xC0000002
	STATUS_INVALID_INFO_CLASS     NTSTATUS = 0xC0000003
	STATUS_INFO_LENGTH_MISMATCH   NTSTATUS = 0xC0000004
	STATUS_INVALID_HANDLE         NTSTATUS = 0xC0000008
	STATUS_INVALID_PARAMETER      NTSTATUS = 0xC000000D
	STATUS_NO_MEMORY              NTSTATUS = 0xC0000017
	STATUS_BUFFER_TOO_SMALL       NTSTATUS = 0xC0000023
	STATUS_OBJECT_NAME_NOT_FOUND  NTSTATUS = 0xC0000034
	STATUS_OBJECT_NAME_COLLISION  NTSTATUS = 0xC0000035
	STATUS_UNKNOWN_REVISION       NTSTATUS = 0xC0000058
	STATUS_INSUFFICIENT_RESOURCES NTSTATUS = 0xC000009A
	STATUS_NOT_FOUND              NTSTATUS = 0xC0000225
)

var statusNames = map[NTSTATUS]string{
	STATUS_SUCCESS:                "STATUS_SUCCESS",
	STATUS_TIMEOUT:                "STATUS_TIMEOUT",
	STATUS_PENDING:                "STATUS_PENDING",
	STATUS_UNSUCCESSFUL:           "STATUS_UNSUCCESSFUL",
	STATUS_NOT_IMPLEMENTED:        "STATUS_NOT_IMPLEMENTED",
	STATUS_INVALID_INFO_CLASS:     "STATUS_INVALID_INFO_CLASS",
	STATUS_INFO_LENGTH_MISMATCH:   "STATUS_INFO_LENGTH_MISMATCH",
	STATUS_INVALID_HANDLE:         "STATUS_INVALID_HANDLE",
	STATUS_INVALID_PARAMETER:      "STATUS_INVALID_PARAMETER",
	STATUS_NO_MEMORY:              "STATUS_NO_MEMORY",
	STATUS_BUFFER_TOO_SMALL:       "STATUS_BUFFER_TOO_SMALL",
	STATUS_OBJECT_NAME_NOT_FOUND:  "STATUS_OBJECT_NAME_NOT_FOUND",
	STATUS_OBJECT_NAME_COLLISION:  "STATUS_OBJECT_NAME_COLLISION",
	STATUS_UNKNOWN_REVISION:       "STATUS_UNKNOWN_REVISION",
	STATUS_INSUFFICIENT_RESOURCES: "STATUS_INSUFFICIENT_RESOURCES",
	STATUS_NOT_FOUND:              "STATUS_NOT_FOUND",
}

// IsSuccess reports NT_SUCCESS(s).
func (s NTSTATUS) IsSuccess() bool {
	return int32(s) >= 0
}

func (s NTSTATUS) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NTSTATUS(%#08x)", uint32(s))
}
