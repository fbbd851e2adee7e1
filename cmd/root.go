package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/asyncsrt/cmd/bench"
	"github.com/ValentinKolb/asyncsrt/cmd/send"
	"github.com/ValentinKolb/asyncsrt/cmd/serve"
	"github.com/ValentinKolb/asyncsrt/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.2"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "asrt",
		Short: "asynchronous SRT-style sockets",
		Long: fmt.Sprintf(`asrt (v%s)

Non-blocking access to a synchronous socket library. Every socket operation
runs on a dedicated channel and is matched to its caller in order.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of asrt",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("asrt v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(send.SendCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "native"
	RootCmd.PersistentFlags().String(key, "unixnet", util.WrapString("native socket library to use (unixnet, memnet - memnet only for bench)"))
	key = "namespace"
	RootCmd.PersistentFlags().String(key, "asrt", util.WrapString("namespace of the unixnet socket names, peers must use the same one"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("level at which logs will be output (debug, info, warn, error)"))
	key = "native-log-level"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("log level of the native library (fatal, error, warn, note, debug), empty keeps its default"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
