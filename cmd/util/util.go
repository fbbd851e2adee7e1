package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and binds ASRT_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("asrt")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupEndpointFlags adds the address and port flags
func SetupEndpointFlags(cmd *cobra.Command, address string) {
	key := "address"
	cmd.Flags().String(key, address, WrapString("The address to listen on or connect to"))

	key = "port"
	cmd.Flags().Int(key, 9000, WrapString("The port to listen on or connect to (1-65535)"))
}

// SetupDispatcherFlags adds the dispatcher flags
func SetupDispatcherFlags(cmd *cobra.Command) {
	key := "call-timeout"
	cmd.Flags().Duration(key, common.DefaultCallTimeout, WrapString("Timeout of calls that use the default timeout"))

	key = "dispose-poll-interval"
	cmd.Flags().Duration(key, common.DefaultDisposePollInterval, WrapString("Pause between two checks for outstanding calls while disposing"))
}

// SetupReadWriteFlags adds the chunked read / write flags
func SetupReadWriteFlags(cmd *cobra.Command) {
	key := "mtu"
	cmd.Flags().Int(key, common.DefaultMTU, WrapString("Largest payload of a single write in bytes"))

	key = "writes-per-tick"
	cmd.Flags().Int(key, common.DefaultWritesPerTick, WrapString("Number of writes issued before the writer yields"))

	key = "read-buffer"
	cmd.Flags().Int(key, common.DefaultReadBufferSize, WrapString("Size of a single read in bytes"))

	key = "max-read-failures"
	cmd.Flags().Int(key, common.DefaultMaxReadFailures, WrapString("Number of consecutive failed reads tolerated before a read gives up"))
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// GetDispatcherConfig reads the dispatcher configuration from viper
func GetDispatcherConfig(name string) common.DispatcherConfig {
	return common.DispatcherConfig{
		Name:                name,
		CallTimeout:         viper.GetDuration("call-timeout"),
		DisposePollInterval: viper.GetDuration("dispose-poll-interval"),
	}.WithDefaults()
}

// GetServerConfig reads the server configuration from viper
func GetServerConfig() (common.ServerConfig, error) {
	port := viper.GetInt("port")
	if port < 1 || port > 65535 {
		return common.ServerConfig{}, fmt.Errorf("invalid port %d", port)
	}

	conf := common.DefaultServerConfig(viper.GetString("address"), port)
	conf.Backlog = viper.GetInt("backlog")
	conf.EpollTimeout = viper.GetDuration("epoll-timeout")
	conf.EpollPeriod = viper.GetDuration("epoll-period")
	conf.Dispatcher = GetDispatcherConfig(fmt.Sprintf("server:%d", port))
	conf.MetricsEndpoint = viper.GetString("metrics-endpoint")
	conf.LogLevel = viper.GetString("log-level")
	conf.NativeLogLevel = viper.GetString("native-log-level")
	return conf, nil
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() (common.ClientConfig, error) {
	port := viper.GetInt("port")
	if port < 1 || port > 65535 {
		return common.ClientConfig{}, fmt.Errorf("invalid port %d", port)
	}

	conf := common.DefaultClientConfig(viper.GetString("address"), port)
	conf.Dispatcher = GetDispatcherConfig(fmt.Sprintf("caller:%d", port))
	conf.LogLevel = viper.GetString("log-level")
	conf.NativeLogLevel = viper.GetString("native-log-level")
	return conf, nil
}

// GetReadWriteConfig reads the read / write configuration from viper
func GetReadWriteConfig() common.ReadWriteConfig {
	return common.ReadWriteConfig{
		MTU:             viper.GetInt("mtu"),
		WritesPerTick:   viper.GetInt("writes-per-tick"),
		ReadBufferSize:  viper.GetInt("read-buffer"),
		MaxReadFailures: viper.GetInt("max-read-failures"),
		Writer:          common.WriterYielding,
	}
}

// InitLogging applies the log-level flag to all loggers
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// --------------------------------------------------------------------------
// Natives
// --------------------------------------------------------------------------

// GetNativeFactory creates the native factory selected by the native flag.
// Only natives that reach other processes are allowed unless inProcess is set.
func GetNativeFactory(inProcess bool) (native.Factory, error) {
	switch name := viper.GetString("native"); name {
	case "unixnet":
		return unixnetFactory(viper.GetString("namespace"))
	case "memnet":
		if !inProcess {
			return nil, fmt.Errorf("native memnet only works within one process, use unixnet")
		}
		return memnetFactory(), nil
	default:
		return nil, fmt.Errorf("invalid native %s (expected one of: memnet, unixnet)", name)
	}
}

// Elapsed formats a duration for log output
func Elapsed(d time.Duration) string {
	return d.Round(time.Microsecond).String()
}
