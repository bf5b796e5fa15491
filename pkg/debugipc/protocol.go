// Package debugipc defines the message surface spoken between the client and
// the remote debug agent: a fixed-size binary header followed by a serialized
// request, reply or notification body.
//
// The header carries the body size, the message kind and a transaction ID.
// Transaction ID 0 is reserved for agent-initiated notifications; nonzero IDs
// correlate exactly one request with one reply.
package debugipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Version is the compiled-in protocol version. The agent's HelloReply must
// carry exactly this version or the connection is refused; there is no
// negotiation or fallback.
const Version uint32 = 31

// HelloSignature is the magic carried in a HelloReply to distinguish a debug
// agent from an arbitrary socket listener.
const HelloSignature uint32 = 0x7a5f6462

// HeaderSize is the wire size of the fixed message header.
const HeaderSize = 12

// MaxMessageSize is a safety ceiling on the declared body size of a single
// message. A header declaring more than this indicates stream corruption and
// tears down the connection.
const MaxMessageSize = 16 * 1024 * 1024

// MsgKind identifies the type of a message. Requests and their replies share
// a kind; notifications have their own kinds.
type MsgKind uint32

const (
	MsgNone MsgKind = iota
	MsgHello
	MsgLaunch
	MsgKill
	MsgAttach
	MsgDetach
	MsgModules
	MsgPause
	MsgQuitAgent
	MsgResume
	MsgProcessTree
	MsgThreads
	MsgReadMemory
	MsgWriteMemory
	MsgReadRegisters
	MsgWriteRegisters
	MsgAddOrChangeBreakpoint
	MsgRemoveBreakpoint
	MsgSysInfo
	MsgStatus
	MsgProcessStatus
	MsgThreadStatus
	MsgAddressSpace
	MsgUpdateFilter
	MsgLoadInfoHandleTable
	MsgConfigAgent
	MsgUpdateGlobalSettings

	// Notifications. Only ever sent agent-to-client with transaction ID 0.
	MsgNotifyProcessExiting
	MsgNotifyProcessStarting
	MsgNotifyThreadStarting
	MsgNotifyThreadExiting
	MsgNotifyException
	MsgNotifyModules
	MsgNotifyIO
)

var msgKindNames = map[MsgKind]string{
	MsgNone:                   "None",
	MsgHello:                  "Hello",
	MsgLaunch:                 "Launch",
	MsgKill:                   "Kill",
	MsgAttach:                 "Attach",
	MsgDetach:                 "Detach",
	MsgModules:                "Modules",
	MsgPause:                  "Pause",
	MsgQuitAgent:              "QuitAgent",
	MsgResume:                 "Resume",
	MsgProcessTree:            "ProcessTree",
	MsgThreads:                "Threads",
	MsgReadMemory:             "ReadMemory",
	MsgWriteMemory:            "WriteMemory",
	MsgReadRegisters:          "ReadRegisters",
	MsgWriteRegisters:         "WriteRegisters",
	MsgAddOrChangeBreakpoint:  "AddOrChangeBreakpoint",
	MsgRemoveBreakpoint:       "RemoveBreakpoint",
	MsgSysInfo:                "SysInfo",
	MsgStatus:                 "Status",
	MsgProcessStatus:          "ProcessStatus",
	MsgThreadStatus:           "ThreadStatus",
	MsgAddressSpace:           "AddressSpace",
	MsgUpdateFilter:           "UpdateFilter",
	MsgLoadInfoHandleTable:    "LoadInfoHandleTable",
	MsgConfigAgent:            "ConfigAgent",
	MsgUpdateGlobalSettings:   "UpdateGlobalSettings",
	MsgNotifyProcessExiting:   "NotifyProcessExiting",
	MsgNotifyProcessStarting:  "NotifyProcessStarting",
	MsgNotifyThreadStarting:   "NotifyThreadStarting",
	MsgNotifyThreadExiting:    "NotifyThreadExiting",
	MsgNotifyException:        "NotifyException",
	MsgNotifyModules:          "NotifyModules",
	MsgNotifyIO:               "NotifyIO",
}

func (k MsgKind) String() string {
	if s, ok := msgKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("MsgKind(%d)", uint32(k))
}

// Header is the fixed-size frame prefix of every message.
type Header struct {
	Size          uint32 // body bytes following the header
	Kind          MsgKind
	TransactionID uint32
}

// EncodeHeader serializes h into a HeaderSize-byte little-endian prefix.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Size)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Kind))
	binary.LittleEndian.PutUint32(buf[8:12], h.TransactionID)
	return buf
}

// DecodeHeader parses a HeaderSize-byte prefix. buf must be at least
// HeaderSize bytes long.
func DecodeHeader(buf []byte) Header {
	return Header{
		Size:          binary.LittleEndian.Uint32(buf[0:4]),
		Kind:          MsgKind(binary.LittleEndian.Uint32(buf[4:8])),
		TransactionID: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// EncodeMessage frames body (serialized as JSON) behind a header of the given
// kind and transaction ID.
func EncodeMessage(kind MsgKind, txn uint32, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %v", kind, err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%s body too large: %d bytes", kind, len(data))
	}
	out := EncodeHeader(Header{Size: uint32(len(data)), Kind: kind, TransactionID: txn})
	return append(out, data...), nil
}

// DecodeBody deserializes a message body into out.
func DecodeBody(kind MsgKind, data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s body: %v", kind, err)
	}
	return nil
}
