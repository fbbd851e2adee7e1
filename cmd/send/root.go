package send

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/socket"
	cmdUtil "github.com/ValentinKolb/asyncsrt/cmd/util"
	"github.com/ValentinKolb/asyncsrt/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

var (
	sendCmdConfig common.ClientConfig
	sendRWConfig  common.ReadWriteConfig
	sendBytes     int
	sendMode      string
	sendRepeat    int

	SendCmd = &cobra.Command{
		Use:     "send",
		Short:   "Connect to a listener and send data",
		Long:    `Connect to a listener and send random data in chunks of at most MTU bytes using the paced writer. The configuration can be set via command line flags or environment variables. The format of the environment variables is ASRT_<flag> (e.g. ASRT_WRITES_PER_TICK=32)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupEndpointFlags(SendCmd, "127.0.0.1")
	cmdUtil.SetupDispatcherFlags(SendCmd)
	cmdUtil.SetupReadWriteFlags(SendCmd)

	key := "bytes"
	SendCmd.Flags().Int(key, 8*1024*1024, cmdUtil.WrapString("Number of bytes to send per round"))

	key = "mode"
	SendCmd.Flags().String(key, "yielding", cmdUtil.WrapString("Pacing of the writer: yielding (yield after each batch) or scheduled (timer between batches)"))

	key = "repeat"
	SendCmd.Flags().Int(key, 1, cmdUtil.WrapString("Number of rounds to send"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	if sendCmdConfig, err = cmdUtil.GetClientConfig(); err != nil {
		return err
	}
	sendRWConfig = cmdUtil.GetReadWriteConfig()
	sendBytes = viper.GetInt("bytes")
	sendMode = viper.GetString("mode")
	sendRepeat = viper.GetInt("repeat")

	if sendBytes <= 0 {
		return fmt.Errorf("invalid byte count %d", sendBytes)
	}
	switch sendMode {
	case common.WriterYielding, common.WriterScheduled:
		sendRWConfig.Writer = sendMode
	default:
		return fmt.Errorf("invalid mode %s (expected one of: yielding, scheduled)", sendMode)
	}
	return cmdUtil.InitLogging()
}

func run(_ *cobra.Command, _ []string) error {
	factory, err := cmdUtil.GetNativeFactory(false)
	if err != nil {
		return err
	}

	fmt.Println("Configuration:")
	fmt.Println(sendCmdConfig.String())
	fmt.Println(sendRWConfig.String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	caller, err := socket.NewCaller(sendCmdConfig, factory, socket.Handlers{})
	if err != nil {
		return err
	}
	defer func() {
		disposeCtx, cancelDispose := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelDispose()
		if err := caller.Dispose(disposeCtx); err != nil {
			Logger.Warningf("dispose: %v", err)
		}
	}()

	if _, err := caller.Create(ctx); err != nil {
		return err
	}
	if err := caller.Open(ctx); err != nil {
		return err
	}

	writer, err := caller.ReaderWriter(sendRWConfig)
	if err != nil {
		return err
	}

	source := make([]byte, sendBytes)
	if _, err := rand.Read(source); err != nil {
		return err
	}

	durations := make([]float64, 0, sendRepeat)
	for round := 1; round <= sendRepeat; round++ {
		rate := util.NewThroughput()
		err := writer.WriteChunks(ctx, source, func(n, _ int) { rate.Record(n) })
		rate.Stop()
		if err != nil {
			return fmt.Errorf("round %d after %s: %w", round, util.FormatBytes(rate.Bytes()), err)
		}

		durations = append(durations, rate.Elapsed().Seconds())
		fmt.Printf("round %-4d %s\n", round, rate)
	}

	if sendRepeat > 1 {
		s := util.Summarize(durations)
		fmt.Printf("\n%d rounds: mean %s, min %s, max %s, std %s\n", s.Count,
			seconds(s.Mean), seconds(s.Min), seconds(s.Max), seconds(s.StdDeviation))
	}
	return nil
}

func seconds(s float64) string {
	return cmdUtil.Elapsed(time.Duration(s * float64(time.Second)))
}
