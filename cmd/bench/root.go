package bench

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/rw"
	"github.com/ValentinKolb/asyncsrt/async/server"
	"github.com/ValentinKolb/asyncsrt/async/socket"
	cmdUtil "github.com/ValentinKolb/asyncsrt/cmd/util"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/ValentinKolb/asyncsrt/lib/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "In-process loopback transfer benchmark",
		Long:    `Start a listener and a caller in this process and transfer chunks from the caller to the accepted connection. Every round checks that the received bytes equal the sent ones and reports the throughput.`,
		PreRunE: processConfig,
		RunE:    run,
	}
	benchRounds     = 5
	benchChunks     = 8192
	benchChunkSize  = 1024
	benchMode       = "yielding"
	benchPort       = 9000
	benchRWConfig   common.ReadWriteConfig
	benchDispatcher common.DispatcherConfig
)

func init() {
	cmdUtil.SetupDispatcherFlags(BenchCmd)
	cmdUtil.SetupReadWriteFlags(BenchCmd)

	key := "rounds"
	BenchCmd.Flags().Int(key, 5, cmdUtil.WrapString("Number of transfers"))
	key = "chunks"
	BenchCmd.Flags().Int(key, 8192, cmdUtil.WrapString("Number of chunks per transfer"))
	key = "chunk-size"
	BenchCmd.Flags().Int(key, 1024, cmdUtil.WrapString("Size of each chunk in bytes (at most the MTU)"))
	key = "mode"
	BenchCmd.Flags().String(key, "yielding", cmdUtil.WrapString("Pacing of the writer: yielding, scheduled or both"))
	key = "port"
	BenchCmd.Flags().Int(key, 9000, cmdUtil.WrapString("First port to listen on, every round uses the next one"))
	key = "csv"
	BenchCmd.Flags().String(key, "", cmdUtil.WrapString("Optional path to save benchmark results as CSV"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchRounds = viper.GetInt("rounds")
	benchChunks = viper.GetInt("chunks")
	benchChunkSize = viper.GetInt("chunk-size")
	benchMode = viper.GetString("mode")
	benchPort = viper.GetInt("port")
	benchRWConfig = cmdUtil.GetReadWriteConfig()
	benchDispatcher = cmdUtil.GetDispatcherConfig("")

	if benchRounds <= 0 || benchChunks <= 0 || benchChunkSize <= 0 {
		return fmt.Errorf("rounds, chunks and chunk-size must be positive")
	}
	if benchChunkSize > benchRWConfig.MTU {
		return fmt.Errorf("chunk-size %d exceeds the MTU %d", benchChunkSize, benchRWConfig.MTU)
	}
	if benchPort < 1 || benchPort+benchRounds*2 > 65535 {
		return fmt.Errorf("invalid port %d", benchPort)
	}
	if _, err := modes(benchMode); err != nil {
		return err
	}
	return cmdUtil.InitLogging()
}

type chunkWriter func(ctx context.Context, c rw.ICaller, fd int, chunks [][]byte, onWrite rw.WriteFunc, writesPerTick int) error

func modes(mode string) ([]string, error) {
	switch mode {
	case "yielding", "scheduled":
		return []string{mode}, nil
	case "both":
		return []string{"yielding", "scheduled"}, nil
	default:
		return nil, fmt.Errorf("invalid mode %s (expected one of: yielding, scheduled, both)", mode)
	}
}

var writers = map[string]chunkWriter{
	"yielding":  rw.WriteChunksYielding,
	"scheduled": rw.WriteChunksScheduled,
}

// roundResult is the outcome of one transfer
type roundResult struct {
	Mode    string
	Round   int
	Written *util.Throughput
	Read    *util.Throughput
}

func run(_ *cobra.Command, _ []string) error {
	factory, err := cmdUtil.GetNativeFactory(true)
	if err != nil {
		return err
	}
	selected, _ := modes(benchMode)

	fmt.Println("In-process loopback benchmark")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(benchDispatcher.String())
	fmt.Println(benchRWConfig.String())
	fmt.Printf("Native: %s, %d rounds of %d x %s\n\n", viper.GetString("native"), benchRounds, benchChunks, util.FormatBytes(int64(benchChunkSize)))

	source := make([]byte, benchChunks*benchChunkSize)
	rand.New(rand.NewSource(time.Now().UnixNano())).Read(source)

	var results []roundResult
	port := benchPort
	for _, mode := range selected {
		rates := make([]float64, 0, benchRounds)
		for round := 1; round <= benchRounds; round++ {
			res, err := transfer(factory, port, writers[mode], source)
			port++
			if err != nil {
				return fmt.Errorf("%s round %d: %w", mode, round, err)
			}
			res.Mode, res.Round = mode, round
			results = append(results, res)
			rates = append(rates, res.Read.BytesPerSecond())
			fmt.Printf("%-10s round %-3d %s\n", mode, round, res.Read)
		}

		s := util.Summarize(rates)
		fmt.Printf("%-10s mean %s/s, min %s/s, max %s/s, std %s/s\n\n", mode,
			util.FormatBytes(int64(s.Mean)), util.FormatBytes(int64(s.Min)),
			util.FormatBytes(int64(s.Max)), util.FormatBytes(int64(s.StdDeviation)))
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}
	return nil
}

// transfer moves source from a caller to the accepted connection of a fresh
// listener on port and checks the received bytes
func transfer(factory native.Factory, port int, write chunkWriter, source []byte) (roundResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	srvConfig := common.DefaultServerConfig("127.0.0.1", port)
	srvConfig.Dispatcher = benchDispatcher
	srvConfig.Dispatcher.Name = fmt.Sprintf("bench-server:%d", port)
	srv, err := server.New(srvConfig, factory, server.Handlers{})
	if err != nil {
		return roundResult{}, err
	}
	defer srv.Dispose(context.Background())

	if _, err := srv.Create(ctx); err != nil {
		return roundResult{}, err
	}
	if err := srv.Open(ctx); err != nil {
		return roundResult{}, err
	}

	callerConfig := common.DefaultClientConfig("127.0.0.1", port)
	callerConfig.Dispatcher = benchDispatcher
	callerConfig.Dispatcher.Name = fmt.Sprintf("bench-caller:%d", port)
	caller, err := socket.NewCaller(callerConfig, factory, socket.Handlers{})
	if err != nil {
		return roundResult{}, err
	}
	defer caller.Dispose(context.Background())

	if _, err := caller.Create(ctx); err != nil {
		return roundResult{}, err
	}
	if err := caller.Open(ctx); err != nil {
		return roundResult{}, err
	}

	if !util.WaitForCondition(func() bool { return len(srv.Connections()) == 1 }, 5*time.Second, time.Millisecond) {
		return roundResult{}, fmt.Errorf("listener did not accept the caller")
	}
	conn := srv.Connections()[0]
	reader, err := conn.ReaderWriter(benchRWConfig)
	if err != nil {
		return roundResult{}, err
	}

	read := util.NewThroughput()
	type readResult struct {
		chunks [][]byte
		err    error
	}
	done := make(chan readResult, 1)
	go func() {
		chunks, err := reader.ReadChunks(ctx, len(source), func(chunk []byte) { read.Record(len(chunk)) }, nil)
		read.Stop()
		done <- readResult{chunks, err}
	}()

	written := util.NewThroughput()
	chunks := util.CloneChunks(util.SliceBufferToChunks(source, benchChunkSize))
	err = write(ctx, caller.Dispatcher(), caller.Handle(), chunks, func(n, _ int) { written.Record(n) }, benchRWConfig.WritesPerTick)
	written.Stop()
	if err != nil {
		return roundResult{}, err
	}

	res := <-done
	if res.err != nil {
		return roundResult{}, res.err
	}
	if written.Bytes() != read.Bytes() || !bytes.Equal(source, util.CopyChunksIntoBuffer(res.chunks)) {
		return roundResult{}, fmt.Errorf("sent %d bytes, received %d bytes that differ from the source", written.Bytes(), read.Bytes())
	}

	return roundResult{Written: written, Read: read}, nil
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []roundResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Mode", "Round", "Bytes", "Chunks", "ChunkSize", "WritesPerTick",
		"WriteDuration", "ReadDuration", "BytesPerSec", "MedianReadSize", "Native",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		row := []string{
			r.Mode,
			strconv.Itoa(r.Round),
			strconv.FormatInt(r.Read.Bytes(), 10),
			strconv.FormatInt(r.Read.Chunks(), 10),
			strconv.Itoa(benchChunkSize),
			strconv.Itoa(benchRWConfig.WritesPerTick),
			r.Written.Elapsed().String(),
			r.Read.Elapsed().String(),
			fmt.Sprintf("%.0f", r.Read.BytesPerSecond()),
			strconv.Itoa(r.Read.Sizes().MedianEstimate()),
			viper.GetString("native"),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for round %d: %v", r.Round, err)
		}
	}
	return nil
}
