package debugipc

import "fmt"

// ZxStatus is a Zircon status code embedded in reply bodies. Zero is success;
// negative values are kernel error codes.
type ZxStatus int32

const (
	ZxOk           ZxStatus = 0
	ZxErrInternal  ZxStatus = -1
	ZxErrCanceled  ZxStatus = -23
	ZxErrPeerClosed ZxStatus = -24
	ZxErrNotFound  ZxStatus = -25
	ZxErrAlreadyBound ZxStatus = -35
	ZxErrIO        ZxStatus = -40
)

func (s ZxStatus) String() string {
	switch s {
	case ZxOk:
		return "ZX_OK"
	case ZxErrInternal:
		return "ZX_ERR_INTERNAL"
	case ZxErrCanceled:
		return "ZX_ERR_CANCELED"
	case ZxErrPeerClosed:
		return "ZX_ERR_PEER_CLOSED"
	case ZxErrNotFound:
		return "ZX_ERR_NOT_FOUND"
	case ZxErrAlreadyBound:
		return "ZX_ERR_ALREADY_BOUND"
	case ZxErrIO:
		return "ZX_ERR_IO"
	}
	return fmt.Sprintf("status=%d", int32(s))
}
