package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepscope/stepscope/pkg/config"
	"github.com/stepscope/stepscope/pkg/logflags"
	"github.com/stepscope/stepscope/pkg/version"
	"github.com/stepscope/stepscope/service"
	"github.com/stepscope/stepscope/service/rpccommon"
)

var (
	addr        string
	logEnabled  bool
	logOutput   string
	acceptMulti bool
	stepTimeout time.Duration
	maxTargets  int

	conf *config.Config
)

func main() {
	conf = config.LoadConfig()

	rootCommand := &cobra.Command{
		Use:   "stepscope",
		Short: "Stepscope is an execution-observation oracle for Linux processes.",
		Long: `Stepscope executes untrusted machine instructions in a target process
under controlled memory and register conditions, one instruction at a
time, and reports exactly what each one did.`,
	}
	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "localhost:4711", "Server listen address.")
	rootCommand.PersistentFlags().BoolVarP(&logEnabled, "log", "", false, "Enable server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output: engine, rpc, ptrace.")

	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Serve observation requests over JSON-RPC.",
		Run:   serveCmd,
	}
	serveCommand.Flags().BoolVarP(&acceptMulti, "accept-multiclient", "", false, "Allow multiple controller connections.")
	serveCommand.Flags().DurationVarP(&stepTimeout, "step-timeout", "", 100*time.Millisecond, "Bound on the wait for a target to stop after a step.")
	serveCommand.Flags().IntVarP(&maxTargets, "max-targets", "", 0, "Cap on concurrently attached targets.")
	rootCommand.AddCommand(serveCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Stepscope %s\n", version.StepscopeVersion)
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.Execute()
}

// applyConfig fills in flag values the user did not set from the config
// file.
func applyConfig(cmd *cobra.Command) {
	if conf == nil {
		return
	}
	if !cmd.Flags().Changed("listen") && conf.Listen != "" {
		addr = conf.Listen
	}
	if !cmd.Flags().Changed("accept-multiclient") && conf.AcceptMulti {
		acceptMulti = true
	}
	if !cmd.Flags().Changed("step-timeout") && conf.StepTimeout != 0 {
		stepTimeout = time.Duration(conf.StepTimeout)
	}
	if !cmd.Flags().Changed("max-targets") && conf.MaxTargets != 0 {
		maxTargets = conf.MaxTargets
	}
	if !cmd.Flags().Changed("log") && conf.Log != "" {
		logEnabled = true
		if logOutput == "" {
			logOutput = conf.Log
		}
	}
}

func serveCmd(cmd *cobra.Command, args []string) {
	applyConfig(cmd)
	if err := logflags.Setup(logEnabled, logOutput); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't start listener: %v\n", err)
		os.Exit(1)
	}

	server, err := rpccommon.NewServer(&service.Config{
		Listener:    listener,
		AcceptMulti: acceptMulti,
		StepTimeout: stepTimeout,
		MaxTargets:  maxTargets,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := server.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Stepscope listening at: %s\n", listener.Addr())

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	server.Stop()
}
