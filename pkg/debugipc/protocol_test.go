package debugipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Size: 1234, Kind: MsgAttach, TransactionID: 77}
	buf := EncodeHeader(h)
	require.Len(t, buf, HeaderSize)
	require.Equal(t, h, DecodeHeader(buf))
}

func TestEncodeMessageFramesBody(t *testing.T) {
	req := AttachRequest{Type: AttachProcess, Koid: 42}
	msg, err := EncodeMessage(MsgAttach, 3, &req)
	require.NoError(t, err)

	h := DecodeHeader(msg[:HeaderSize])
	require.Equal(t, MsgAttach, h.Kind)
	require.Equal(t, uint32(3), h.TransactionID)
	require.Equal(t, int(h.Size), len(msg)-HeaderSize)

	var got AttachRequest
	require.NoError(t, DecodeBody(MsgAttach, msg[HeaderSize:], &got))
	require.Equal(t, req, got)
}

func TestNotificationKindsHaveNames(t *testing.T) {
	for _, k := range []MsgKind{
		MsgNotifyProcessStarting, MsgNotifyProcessExiting,
		MsgNotifyThreadStarting, MsgNotifyThreadExiting,
		MsgNotifyException, MsgNotifyModules, MsgNotifyIO,
	} {
		require.NotContains(t, k.String(), "MsgKind(")
	}
}

func TestExceptionTypeClassification(t *testing.T) {
	require.True(t, ExceptionSoftwareBreakpoint.IsDebug())
	require.True(t, ExceptionSingleStep.IsDebug())
	require.True(t, ExceptionSynthetic.IsDebug())
	require.False(t, ExceptionPageFault.IsDebug())
	require.False(t, ExceptionGeneral.IsDebug())

	require.True(t, ExceptionSoftwareBreakpoint.IsBreakpointClass())
	require.True(t, ExceptionWatchpoint.IsBreakpointClass())
	require.False(t, ExceptionSingleStep.IsBreakpointClass())
	require.False(t, ExceptionSynthetic.IsBreakpointClass())
}

func TestZxStatusStrings(t *testing.T) {
	require.Equal(t, "ZX_OK", ZxOk.String())
	require.Equal(t, "ZX_ERR_ALREADY_BOUND", ZxErrAlreadyBound.String())
	require.Equal(t, "status=-9999", ZxStatus(-9999).String())
}
