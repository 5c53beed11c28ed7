package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/trustplane/trustagent/cmd/flags"
	"github.com/trustplane/trustagent/cryptoutils"
	"github.com/trustplane/trustagent/dispatcher"
	"github.com/trustplane/trustagent/interfaces"
	"github.com/trustplane/trustagent/securechannel"
	"github.com/trustplane/trustagent/storage"
	"github.com/trustplane/trustagent/trustmgr"
	"github.com/urfave/cli/v2"
)

// Reference protocol fixture payloads.
const (
	clientMessage = "Hi from your secret client\n"
	serverMessage = "Hi from your secret server\n"
)

var appFlags = []cli.Flag{
	flags.OperationFlag,
	flags.DomainFlag,
	flags.PolicyHostFlag,
	flags.PolicyPortFlag,
	flags.ServerAppHostFlag,
	flags.ServerAppPortFlag,
	flags.DataDirFlag,
	flags.StoreURIFlag,
	flags.PolicyStoreFileFlag,
	flags.PolicyCertFileFlag,
	flags.MeasurementFileFlag,
	flags.EnclaveTypeFlag,
	flags.QuoteProviderFlag,
	flags.LogJsonFlag,
	flags.LogDebugFlag,
	flags.LogUidFlag,
	flags.LogServiceFlag,
}

func main() {
	app := &cli.App{
		Name:   "trustagent",
		Usage:  "Certify into a security domain and exchange messages over authenticated channels",
		Flags:  appFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	operation := cCtx.String(flags.OperationFlag.Name)
	if operation == "" {
		return cli.ShowAppHelp(cCtx)
	}

	op, err := interfaces.ParseOperation(operation)
	if err != nil {
		return err
	}

	logger := flags.SetupLogger(cCtx)

	domain, err := interfaces.NewDomainName(cCtx.String(flags.DomainFlag.Name))
	if err != nil {
		return err
	}

	dataDir := cCtx.String(flags.DataDirFlag.Name)
	storeURI := cCtx.String(flags.StoreURIFlag.Name)
	if storeURI == "" {
		storeURI = "file://" + dataDir
	}

	backend, err := storage.NewStorageBackendFactory(logger).StorageBackendFor(storeURI)
	if err != nil {
		return err
	}

	measurement, err := loadMeasurement(filepath.Join(dataDir, cCtx.String(flags.MeasurementFileFlag.Name)))
	if err != nil {
		// Only certification needs the measurement; the session operations
		// run on the persisted trust state alone.
		if op == interfaces.OperationColdInit || op == interfaces.OperationGetCertified {
			return err
		}
		logger.Debug("No measurement file", "err", err)
	}

	trust := trustmgr.NewManager(backend, cCtx.String(flags.PolicyStoreFileFlag.Name), measurement, logger)
	defer trust.ClearSensitiveData()

	enclaveType := cCtx.String(flags.EnclaveTypeFlag.Name)
	if err := trust.InitializeEnclave(enclaveType, cCtx.String(flags.QuoteProviderFlag.Name)); err != nil {
		return err
	}

	policyHost := cCtx.String(flags.PolicyHostFlag.Name)
	policyPort := cCtx.Int(flags.PolicyPortFlag.Name)

	if op == interfaces.OperationColdInit {
		policyCert, err := loadOrFetchPolicyCert(
			filepath.Join(dataDir, cCtx.String(flags.PolicyCertFileFlag.Name)),
			fmt.Sprintf("http://%s:%d", policyHost, policyPort),
			domain,
		)
		if err != nil {
			return err
		}
		if err := trust.InitPolicyKey(policyCert); err != nil {
			return err
		}
	}

	cfg := dispatcher.Config{
		AppHost: cCtx.String(flags.ServerAppHostFlag.Name),
		AppPort: cCtx.Int(flags.ServerAppPortFlag.Name),
		ColdInit: interfaces.ColdInitParams{
			PublicKeyAlg:    cryptoutils.PublicKeyAlgECCP256,
			SymmetricKeyAlg: cryptoutils.SymKeyAlgAES256GCM,
			Domain:          domain,
			PolicyHost:      policyHost,
			PolicyPort:      policyPort,
			AppHost:         cCtx.String(flags.ServerAppHostFlag.Name),
			AppPort:         cCtx.Int(flags.ServerAppPortFlag.Name),
		},
		ClientMessage:    []byte(clientMessage),
		ExpectedResponse: []byte(serverMessage),
		ServerResponse:   []byte(serverMessage),
	}

	d := dispatcher.New(trust, securechannel.NewProvider(logger), cfg, logger)
	return d.Execute(op)
}

// loadMeasurement reads a raw 32-byte measurement file.
func loadMeasurement(path string) (interfaces.Measurement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return interfaces.Measurement{}, fmt.Errorf("failed to read measurement file: %w", err)
	}
	return interfaces.NewMeasurementFromBytes(data)
}

// loadOrFetchPolicyCert reads the pinned policy certificate, falling back to
// the authority's public endpoint on first provisioning. A fetched
// certificate is pinned on disk for subsequent runs.
func loadOrFetchPolicyCert(path, authorityAddr string, domain interfaces.DomainName) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	client := &trustmgr.AuthorityClient{ServerAddr: authorityAddr}
	cert, err := client.PolicyCert(domain)
	if err != nil {
		return nil, fmt.Errorf("no pinned policy certificate and fetch failed: %w", err)
	}

	if err := os.WriteFile(path, cert, 0o600); err != nil {
		return nil, fmt.Errorf("failed to pin policy certificate: %w", err)
	}
	return cert, nil
}
