package interception

import (
	"encoding/binary"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/session"
)

// argRegisters returns the integer argument registers of the C calling
// convention for the given architecture, in argument order. Arguments beyond
// the register set are passed on the stack and not captured.
func argRegisters(arch string) []string {
	if arch == "arm64" {
		return []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"}
	}
	return []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
}

func returnRegister(arch string) string {
	if arch == "arm64" {
		return "x0"
	}
	return "rax"
}

// regValue decodes a little-endian register value, tolerating registers
// narrower than 8 bytes.
func regValue(data []byte) uint64 {
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:])
}

// syscallDecoder tracks one in-flight syscall on one thread between its entry
// stop and its return stop.
type syscallDecoder struct {
	workflow *Workflow
	syscall  *Syscall
	thread   session.WeakThread

	processKoid uint64
	processName string
	threadKoid  uint64

	args     []uint64
	exitAddr uint64
	// exitBreakpoint is the thread-scoped one-shot return breakpoint, nil in
	// shared-exit mode. Torn down if the decode is abandoned.
	exitBreakpoint *session.Breakpoint
}

// decodeEntry captures the return address from the caller frame, reads the
// argument registers, and hands the result back to the workflow. The thread
// stays stopped until the workflow resumes it.
func (d *syscallDecoder) decodeEntry(t *session.Thread) {
	if d.syscall.HasReturn {
		if frames := t.Stack().Frames(); len(frames) >= 2 {
			d.exitAddr = frames[1].IP
		}
	}
	d.workflow.session.RemoteAPI().ReadRegisters(&debugipc.ReadRegistersRequest{
		ProcessKoid: d.processKoid,
		ThreadKoid:  d.threadKoid,
		Categories:  []string{"general"},
	}, func(reply *debugipc.ReadRegistersReply, err error) {
		thread := d.thread.Get()
		if thread == nil {
			return
		}
		if err != nil {
			d.workflow.decoderError(thread, d, err)
			return
		}
		byName := make(map[string][]byte, len(reply.Registers))
		for _, r := range reply.Registers {
			byName[r.ID] = r.Data
		}
		regs := argRegisters(d.workflow.session.Arch().Arch)
		n := d.syscall.NumArgs
		if n > len(regs) {
			n = len(regs)
		}
		d.args = make([]uint64, n)
		for i := 0; i < n; i++ {
			d.args[i] = regValue(byName[regs[i]])
		}
		d.workflow.entryDecoded(thread, d)
	})
}

// loadReturnValue reads the result register at the return stop.
func (d *syscallDecoder) loadReturnValue(t *session.Thread) {
	d.workflow.session.RemoteAPI().ReadRegisters(&debugipc.ReadRegistersRequest{
		ProcessKoid: d.processKoid,
		ThreadKoid:  d.threadKoid,
		Categories:  []string{"general"},
	}, func(reply *debugipc.ReadRegistersReply, err error) {
		thread := d.thread.Get()
		if thread == nil {
			return
		}
		if err != nil {
			d.workflow.decoderError(thread, d, err)
			return
		}
		retReg := returnRegister(d.workflow.session.Arch().Arch)
		var ret uint64
		for _, r := range reply.Registers {
			if r.ID == retReg {
				ret = regValue(r.Data)
				break
			}
		}
		d.workflow.exitDecoded(thread, d, ret)
	})
}
