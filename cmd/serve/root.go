package serve

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/server"
	cmdUtil "github.com/ValentinKolb/asyncsrt/cmd/util"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/ValentinKolb/asyncsrt/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

var (
	serveCmdConfig   common.ServerConfig
	serveRWConfig    common.ReadWriteConfig
	serveReportEvery time.Duration

	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start a listener",
		Long:    `Start a listener that accepts connections, reads everything they send and logs the throughput of every connection. The configuration can be set via command line flags or environment variables. The format of the environment variables is ASRT_<flag> (e.g. ASRT_EPOLL_PERIOD=5ms)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupEndpointFlags(ServeCmd, "0.0.0.0")
	cmdUtil.SetupDispatcherFlags(ServeCmd)
	cmdUtil.SetupReadWriteFlags(ServeCmd)

	key := "backlog"
	ServeCmd.Flags().Int(key, common.DefaultBacklog, cmdUtil.WrapString("Maximum number of connections waiting to be accepted"))

	key = "epoll-timeout"
	ServeCmd.Flags().Duration(key, 0, cmdUtil.WrapString("Timeout of each readiness wait, 0 polls without waiting"))

	key = "epoll-period"
	ServeCmd.Flags().Duration(key, 0, cmdUtil.WrapString("Pause between two poll ticks"))

	key = "metrics-endpoint"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on (e.g. localhost:9090), empty disables metrics"))

	key = "report-every"
	ServeCmd.Flags().Duration(key, 5*time.Second, cmdUtil.WrapString("Interval of the throughput log of open connections, 0 disables it"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	if serveCmdConfig, err = cmdUtil.GetServerConfig(); err != nil {
		return err
	}
	serveRWConfig = cmdUtil.GetReadWriteConfig()
	serveReportEvery = viper.GetDuration("report-every")

	return cmdUtil.InitLogging()
}

// readReady reads the messages waiting on c. It runs on the poll goroutine
// for every data notification, so it never blocks on an idle connection.
func readReady(ctx context.Context, c *server.Connection, rate *util.Throughput) {
	reader, err := c.ReaderWriter(serveRWConfig)
	if err != nil {
		return
	}
	_, err = reader.ReadChunks(ctx, 1, func(chunk []byte) { rate.Record(len(chunk)) }, nil)
	if err != nil && !errors.Is(err, common.ErrDisposed) && !errors.Is(err, context.Canceled) {
		Logger.Warningf("%s: %v", c, err)
	}
}

// run starts the listener and blocks until an interrupt
func run(_ *cobra.Command, _ []string) error {
	factory, err := cmdUtil.GetNativeFactory(false)
	if err != nil {
		return err
	}

	Logger.Infof("Starting listener")
	Logger.Infof(serveCmdConfig.String())
	Logger.Infof(serveRWConfig.String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// throughput per connection, only touched on the poll goroutine
	rates := make(map[int]*util.Throughput)

	srv, err := server.New(serveCmdConfig, factory, server.Handlers{
		OnOpened: func(s *server.Server) {
			Logger.Infof("listening on %s", s)
		},
		OnConnection: func(c *server.Connection) {
			Logger.Infof("accepted %s", c)
			c.Handle(server.ConnectionHandlers{
				OnData: func(c *server.Connection) {
					if !c.GotFirstData() {
						rates[c.FD()] = util.NewThroughput()
					}
					readReady(ctx, c, rates[c.FD()])
				},
				OnClosed: func(c *server.Connection, res native.Result) {
					Logger.Debugf("%s closed: %s", c, res)
				},
			})
		},
		OnDisconnection: func(fd int) {
			if rate, ok := rates[fd]; ok {
				rate.Stop()
				delete(rates, fd)
				Logger.Infof("connection %d disconnected after %s", fd, rate)
				return
			}
			Logger.Infof("connection %d disconnected", fd)
		},
		OnError: func(err error) {
			Logger.Errorf("listener: %v", err)
		},
	})
	if err != nil {
		return err
	}

	if _, err := srv.Create(ctx); err != nil {
		return err
	}
	if err := srv.Open(ctx); err != nil {
		_ = srv.Dispose(context.Background())
		return err
	}

	if serveCmdConfig.MetricsEndpoint != "" {
		go serveMetrics(serveCmdConfig.MetricsEndpoint)
	}
	if serveReportEvery > 0 {
		go report(ctx, srv)
	}

	<-ctx.Done()
	Logger.Infof("shutting down")

	disposeCtx, cancelDispose := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDispose()
	return srv.Dispose(disposeCtx)
}

// report logs the native statistics of all open connections
func report(ctx context.Context, srv *server.Server) {
	ticker := time.NewTicker(serveReportEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, c := range srv.Connections() {
			stats, res, err := srv.Dispatcher().Stats(ctx, c.FD(), true)
			if err != nil || res == native.ERROR {
				continue
			}
			Logger.Infof("%s: received %s in %d messages since last report (%s total)",
				c, util.FormatBytes(stats.ByteRecv), stats.PktRecv, util.FormatBytes(stats.ByteRecvTotal))
		}
	}
}

// serveMetrics serves the Prometheus metrics on endpoint
func serveMetrics(endpoint string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteMetrics(w, true)
	})
	Logger.Infof("serving metrics on http://%s/metrics", endpoint)
	if err := http.ListenAndServe(endpoint, mux); err != nil {
		Logger.Errorf("metrics endpoint: %v", err)
	}
}
