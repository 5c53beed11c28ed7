package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/trustplane/trustagent/authority"
	"github.com/trustplane/trustagent/common"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *authority.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &authority.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var OperationFlag = &cli.StringFlag{
	Name:  "operation",
	Usage: "operation to perform: cold-init, get-certified, run-as-client or run-as-server",
}

var DomainFlag = &cli.StringFlag{
	Name:    "domain",
	Value:   "app.trustplane.dev",
	Usage:   "security domain to certify into",
	EnvVars: []string{"TRUSTAGENT_DOMAIN"},
}

var PolicyHostFlag = &cli.StringFlag{
	Name:  "policy-host",
	Value: "localhost",
	Usage: "policy authority host",
}

var PolicyPortFlag = &cli.IntFlag{
	Name:  "policy-port",
	Value: 8123,
	Usage: "policy authority port",
}

var ServerAppHostFlag = &cli.StringFlag{
	Name:  "server-app-host",
	Value: "localhost",
	Usage: "server application host, dialed by the client and bound by the server",
}

var ServerAppPortFlag = &cli.IntFlag{
	Name:  "server-app-port",
	Value: 8124,
	Usage: "server application port",
}

var DataDirFlag = &cli.StringFlag{
	Name:    "data-dir",
	Value:   "./app1_data",
	Usage:   "directory holding the policy store and provisioning files",
	EnvVars: []string{"TRUSTAGENT_DATA_DIR"},
}

var StoreURIFlag = &cli.StringFlag{
	Name:    "store-uri",
	Usage:   "policy store backend URI (file://, vault://, s3://); defaults to file:// under the data dir",
	EnvVars: []string{"TRUSTAGENT_STORE_URI"},
}

var PolicyStoreFileFlag = &cli.StringFlag{
	Name:  "policy-store-file",
	Value: "store.bin.policy_store",
	Usage: "name of the sealed policy store blob within the storage backend",
}

var PolicyCertFileFlag = &cli.StringFlag{
	Name:  "policy-cert-file",
	Value: "policy_cert_file.bin",
	Usage: "policy certificate file within the data dir; fetched from the authority when absent",
}

var MeasurementFileFlag = &cli.StringFlag{
	Name:  "measurement-file",
	Value: "app.measurement",
	Usage: "application measurement file within the data dir, as produced by the measure utility",
}

var EnclaveTypeFlag = &cli.StringFlag{
	Name:    "enclave-type",
	Value:   "simulated-enclave",
	Usage:   "enclave platform: simulated-enclave or tdx-enclave",
	EnvVars: []string{"TRUSTAGENT_ENCLAVE_TYPE"},
}

var QuoteProviderFlag = &cli.StringFlag{
	Name:  "quote-provider-addr",
	Usage: "address of a remote quote provider, used with tdx-enclave when the quote device is proxied",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}
