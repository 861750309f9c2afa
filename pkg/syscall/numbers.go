// Package syscall implements the single-dispatcher syscall surface of
// spec §4.8/§6: a stable `(function_number, parameter)` numbering routed
// to the core operations pkg/memory, pkg/kobj, pkg/sched, pkg/ksync, and
// pkg/msg already implement. Struct parameters are validated with the
// SAFE_USE_INPUT_POINTER discipline before their fields are read; handlers
// whose parameter points at a single u32 (CreateSemaphore, VirtualAlloc,
// VirtualFree, HeapAlloc, HeapFree) check only that those bytes are
// resident and read no {Size, Version, Flags} header.
package syscall

// Number is one of the stable SYSCALL_* function numbers (spec §6). Base
// services occupy 0x00..0x2E; windowing services occupy 0x40..0x69 and
// are out of this module's five core subsystems (no Window/Desktop
// object model is implemented here), so they dispatch to
// ErrNotImplemented rather than being renumbered or dropped.
type Number uint32

const (
	GetVersion Number = iota
	GetSystemInfo
	GetLastError
	SetLastError
	GetSystemTime
	GetLocalTime
	SetLocalTime
	DeleteObject
	CreateProcess
	KillProcess
	CreateTask
	KillTask
	SuspendTask
	ResumeTask
	Sleep
	PostMessage
	SendMessage
	PeekMessage
	GetMessage
	DispatchMessage
	CreateSemaphore
	LockSemaphore
	UnlockSemaphore
	VirtualAlloc
	VirtualFree
	GetProcessHeap
	HeapAlloc
	HeapFree
	EnumVolumes
	GetVolumeInfo
	OpenFile
	ReadFile
	WriteFile
	GetFilePointer
	SetFilePointer
	FindFirstFile
	FindNextFile
	CreateFileMapping
	OpenFileMapping
	MapViewOfFile
	UnmapViewOfFile
	ConsolePeekKey
	ConsoleGetKey
	ConsolePrint
	ConsoleGetString
	ConsoleGotoXY

	baseServiceCount
)

// WindowServiceBase is the first windowing-service number (spec §6
// "0x40..0x69"); numbers in that range are reserved but unimplemented.
const WindowServiceBase Number = 0x40
