package cmds

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cosiner/argv"
	"github.com/spf13/cobra"

	"github.com/vsrinivas/fuchsia-debug/pkg/config"
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

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const zxdbCommandLongDesc = `zxdb is a console client for debugging remote processes.

It speaks to a debug agent over an IPC channel to attach to, breakpoint and
inspect processes and threads running on the target system. Process stdout,
stderr and stop notifications are streamed to this terminal.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "zxdb",
		Short: "zxdb is a remote process debugger client.",
		Long:  zxdbCommandLongDesc,
	}
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "",
		"Comma separated list of layers that should produce debug output (session,ipc,breakpoint,fidlcat,minidump,symbolizer).")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "",
		"Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringVarP(&connectAddr, "connect", "c", "",
		"Debug agent address (host:port). Defaults to the value in the config file.")

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zxdb %s\n%s\n", version.ClientVersion.String(), version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	connectCommand := &cobra.Command{
		Use:   "connect [addr]",
		Short: "Connect to a debug agent and stream its notifications.",
		Run: func(cmd *cobra.Command, args []string) {
			addr := agentAddr(args)
			os.Exit(execute(func(s *session.Session, loop *mloop.Loop, done func(error)) {
				s.Connect(addr, done)
			}))
		},
	}
	rootCommand.AddCommand(connectCommand)

	attachCommand := &cobra.Command{
		Use:   "attach <koid>",
		Short: "Connect to a debug agent and attach to a running process.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			koid, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid koid %q\n", args[0])
				os.Exit(1)
			}
			addr := agentAddr(nil)
			os.Exit(execute(func(s *session.Session, loop *mloop.Loop, done func(error)) {
				s.Connect(addr, func(err error) {
					if err != nil {
						done(err)
						return
					}
					s.System().AttachToProcess(koid, done)
				})
			}))
		},
	}
	rootCommand.AddCommand(attachCommand)

	runCommand := &cobra.Command{
		Use:   "run <command line>",
		Short: "Connect to a debug agent and launch a program on the target.",
		Long: `Connect to a debug agent and launch a program on the target.

The command line is split shell-style, so quoted arguments survive:

  zxdb run '/pkg/bin/echo_server --label "my server"'`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			launchArgs, err := splitCommandLine(strings.Join(args, " "))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			addr := agentAddr(nil)
			os.Exit(execute(func(s *session.Session, loop *mloop.Loop, done func(error)) {
				s.Connect(addr, func(err error) {
					if err != nil {
						done(err)
						return
					}
					s.System().Targets()[0].Launch(launchArgs, done)
				})
			}))
		},
	}
	rootCommand.AddCommand(runCommand)

	coreCommand := &cobra.Command{
		Use:   "core <path>",
		Short: "Open a post-mortem snapshot and print its processes and threads.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := args[0]
			os.Exit(execute(func(s *session.Session, loop *mloop.Loop, done func(error)) {
				s.OpenMinidump(path, func(err error) {
					if err != nil {
						done(err)
						return
					}
					printSnapshotSummary(s)
					loop.Quit()
				})
			}))
		},
	}
	rootCommand.AddCommand(coreCommand)

	return rootCommand
}

func agentAddr(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if connectAddr != "" {
		return connectAddr
	}
	if conf.Connect != "" {
		return conf.Connect
	}
	fmt.Fprintln(os.Stderr, "no debug agent address: pass one or set 'connect' in the config file")
	os.Exit(1)
	return ""
}

// splitCommandLine splits a shell-style command line into argv entries.
func splitCommandLine(line string) ([]string, error) {
	v, err := argv.Argv(line,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in %q", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 || len(v[0]) == 0 {
		return nil, fmt.Errorf("illegal command line %q", line)
	}
	return v[0], nil
}

// execute wires a loop, a session and the console observer, runs start on the
// loop goroutine and services notifications until interrupted or quit.
func execute(start func(s *session.Session, loop *mloop.Loop, done func(error))) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logflags.Close()

	loop := mloop.New()
	s := session.NewSession(loop)
	console := &consoleOutput{out: os.Stdout}
	s.AddObserver(console)
	s.AddProcessObserver(console)
	s.AddThreadObserver(console)

	s.System().Settings().PauseOnLaunch = conf.PauseOnLaunch
	s.System().Settings().PauseOnAttach = conf.PauseOnAttach
	s.System().Settings().QuitAgentOnExit = conf.QuitAgentOnExit
	configureSymbolServers(s)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		loop.Post(func() { shutdown(s, loop) })
	}()

	status := 0
	loop.Post(func() {
		start(s, loop, func(err error) {
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				status = 1
				loop.Quit()
			}
		})
	})
	loop.Run()
	return status
}

// shutdown disconnects the live session, if any, before stopping the loop.
// Disconnecting lets the quit-agent-on-exit option reach the agent.
func shutdown(s *session.Session, loop *mloop.Loop) {
	if s.IsConnected() {
		s.Disconnect(func(error) { loop.Quit() })
		return
	}
	loop.Quit()
}

func configureSymbolServers(s *session.Session) {
	if len(conf.SymbolServers) == 0 {
		return
	}
	cacheDir := conf.SymbolCache
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "no symbol cache directory: %v\n", err)
			return
		}
		cacheDir = filepath.Join(home, ".zxdb", "symbol-cache")
	}
	for _, srv := range conf.SymbolServers {
		s.System().AddSymbolServer(session.NewHTTPSymbolServer(s.Loop(), srv.URL, cacheDir, srv.RequireAuth))
	}
}

func printSnapshotSummary(s *session.Session) {
	for _, target := range s.System().Targets() {
		p := target.Process()
		if p == nil {
			continue
		}
		fmt.Printf("process %d %s\n", p.Koid(), p.Name())
		for _, m := range p.Modules() {
			fmt.Printf("  module %s base=0x%x build_id=%s\n", m.Name, m.Base, m.BuildID)
		}
		for _, t := range p.Threads() {
			fmt.Printf("  thread %d %s\n", t.Koid(), t.Name())
			for i, f := range t.Stack().Frames() {
				loc := f.Location.Symbol
				if loc == "" {
					loc = "<unknown>"
				}
				fmt.Printf("    #%d 0x%x %s\n", i, f.IP, loc)
			}
		}
	}
}
