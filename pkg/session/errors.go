package session

import (
	"errors"
	"fmt"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
)

// ErrCanceled is reported to a pending operation's callback when the
// operation was abandoned (a Connect canceled by Disconnect, a reply that
// arrived after the requesting object was destroyed). Callbacks are never
// silently dropped.
var ErrCanceled = errors.New("operation canceled")

// ErrNotConnected is returned when an IPC request is issued with no live
// agent connection.
var ErrNotConnected = errors.New("not connected to a debug agent")

// AlreadyConnectedError is returned by Connect when the session already has a
// live connection, an open minidump, or a connection attempt in flight.
type AlreadyConnectedError struct {
	// What holds the conflicting state: "connection", "minidump" or
	// "pending connection".
	What string
}

func (e AlreadyConnectedError) Error() string {
	return fmt.Sprintf("session already has a %s; disconnect first", e.What)
}

// AlreadyAttachedError is returned when attaching to a process koid some
// Target is already attached to.
type AlreadyAttachedError struct {
	Koid uint64
}

func (e AlreadyAttachedError) Error() string {
	return fmt.Sprintf("already attached to process %d", e.Koid)
}

// VersionMismatchError fails a connection attempt when the agent speaks a
// different protocol version. There is no negotiation.
type VersionMismatchError struct {
	Agent  uint32
	Client uint32
}

func (e VersionMismatchError) Error() string {
	return fmt.Sprintf("protocol version mismatch: agent speaks version %d, this client requires %d", e.Agent, e.Client)
}

// BackendError wraps a nonzero status code from a reply body, with the
// operation-specific message already applied.
type BackendError struct {
	Status  debugipc.ZxStatus
	Message string
}

func (e BackendError) Error() string {
	return e.Message
}

func backendErrorf(status debugipc.ZxStatus, format string, args ...interface{}) error {
	return BackendError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// ErrNoSymbolServer fails a Download when no registered symbol server could
// serve the artifact.
type ErrNoSymbolServer struct {
	BuildID  string
	FileType DownloadFileType
}

func (e ErrNoSymbolServer) Error() string {
	return fmt.Sprintf("no symbol server could provide %s for build ID %s", e.FileType, e.BuildID)
}
