package cmds

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vsrinivas/fuchsia-debug/pkg/config"
	"github.com/vsrinivas/fuchsia-debug/pkg/interception"
	"github.com/vsrinivas/fuchsia-debug/pkg/logflags"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
	"github.com/vsrinivas/fuchsia-debug/pkg/session"
	"github.com/vsrinivas/fuchsia-debug/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of layers that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// connectAddr is the debug agent address.
	connectAddr string
	// remotePids are koids of processes to attach to directly.
	remotePids []string
	// remoteNames are process name filters whose matches are monitored as
	// main processes.
	remoteNames []string
	// extraNames are additional process name filters monitored alongside the
	// main ones. They never start event decoding on their own.
	extraNames []string

	conf *config.Config
)

const fidlcatLongDesc = `fidlcat monitors the system calls made by processes on a remote target.

It attaches through a debug agent, plants breakpoints on the syscall
trampolines of the monitored processes and prints each call with its
arguments and return value. Monitoring starts when the first process
matching --remote-name or --remote-pid appears and stops when the last
one exits.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	root := &cobra.Command{
		Use:   "fidlcat",
		Short: "fidlcat traces syscalls of remote processes.",
		Long:  fidlcatLongDesc,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(trace())
		},
	}
	root.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	root.PersistentFlags().StringVarP(&logOutput, "log-output", "", "",
		"Comma separated list of layers that should produce debug output (session,ipc,breakpoint,fidlcat,minidump,symbolizer).")
	root.PersistentFlags().StringVarP(&logDest, "log-dest", "", "",
		"Writes logs to the specified file or file descriptor.")
	root.PersistentFlags().StringVarP(&connectAddr, "connect", "c", "",
		"Debug agent address (host:port). Defaults to the value in the config file.")
	root.Flags().StringSliceVar(&remotePids, "remote-pid", nil,
		"Koid of a process to monitor. Repeatable.")
	root.Flags().StringSliceVar(&remoteNames, "remote-name", nil,
		"Name filter for processes to monitor. Repeatable.")
	root.Flags().StringSliceVar(&extraNames, "extra-name", nil,
		"Name filter for additional processes to monitor alongside the main ones. Repeatable.")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fidlcat %s\n%s\n", version.ClientVersion.String(), version.BuildInfo())
		},
	})

	return root
}

func trace() int {
	pids, err := parsePids(remotePids)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(pids) == 0 && len(remoteNames) == 0 && len(extraNames) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to monitor: pass --remote-pid, --remote-name or --extra-name")
		return 1
	}
	if len(extraNames) > 0 && len(pids) == 0 && len(remoteNames) == 0 {
		fmt.Fprintln(os.Stderr, "--extra-name requires --remote-name or --remote-pid")
		return 1
	}

	addr := connectAddr
	if addr == "" {
		addr = conf.Connect
	}
	if addr == "" {
		fmt.Fprintln(os.Stderr, "no debug agent address: pass --connect or set 'connect' in the config file")
		return 1
	}

	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logflags.Close()

	loop := mloop.New()
	s := session.NewSession(loop)
	s.System().Settings().QuitAgentOnExit = conf.QuitAgentOnExit

	// Disconnecting before quitting lets the quit-agent-on-exit option reach
	// the agent. Posted so it never runs inside an observer notification.
	shutdown := func() {
		loop.Post(func() {
			if s.IsConnected() {
				s.Disconnect(func(error) { loop.Quit() })
				return
			}
			loop.Quit()
		})
	}

	workflow := interception.NewWorkflow(s,
		interception.NewSyscallTable(interception.DefaultSyscalls()),
		&interception.WriterSink{W: os.Stdout})
	workflow.SetShutdownCallback(shutdown)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		shutdown()
	}()

	status := 0
	fail := func(err error) {
		fmt.Fprintln(os.Stderr, err)
		status = 1
		loop.Quit()
	}
	loop.Post(func() {
		s.Connect(addr, func(err error) {
			if err != nil {
				fail(err)
				return
			}
			workflow.Monitor(remoteNames, extraNames, pids, func(err error) {
				if err != nil {
					fail(err)
				}
			})
		})
	})
	loop.Run()
	return status
}

func parsePids(args []string) ([]uint64, error) {
	var pids []uint64
	for _, a := range args {
		pid, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid process koid %q", a)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
