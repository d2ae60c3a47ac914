/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	reqContext "context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics/prometheus"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
	"github.com/hyperledger/fabric-txnflow/pkg/fabsdk"
	"github.com/hyperledger/fabric-txnflow/pkg/msp"
)

var logger = logging.NewLogger("txnflow/cmd")

const (
	cmdName        = "txnflow"
	defaultTimeout = 3 * time.Minute
)

// globalFlags are shared by every command that talks to the network
type globalFlags struct {
	configFile  string
	certFile    string
	keyFile     string
	mspID       string
	timeout     time.Duration
	metricsAddr string
}

func (g *globalFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&g.configFile, "config", "", "Path to the network config file")
	flags.StringVar(&g.certFile, "cert", "", "Path to the PEM enrollment certificate of the client")
	flags.StringVar(&g.keyFile, "key", "", "Path to the PEM private key of the client")
	flags.StringVar(&g.mspID, "mspid", "", "MSP ID of the client organization")
	flags.DurationVar(&g.timeout, "timeout", defaultTimeout, "Overall timeout of the command")
	flags.StringVar(&g.metricsAddr, "metrics-addr", "", "Address of the operations endpoint serving /metrics and /healthz")
}

func (g *globalFlags) validate() error {
	switch {
	case g.configFile == "":
		return errors.New("the required parameter 'config' is empty. Rerun the command with --config")
	case g.certFile == "" || g.keyFile == "":
		return errors.New("the client credentials are required. Rerun the command with --cert and --key")
	case g.mspID == "":
		return errors.New("the required parameter 'mspid' is empty. Rerun the command with --mspid")
	case g.timeout <= 0:
		return errors.New("timeout must be positive")
	}
	return nil
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:          cmdName,
		Short:        "Run transactions against a Fabric channel.",
		Long:         "Install, invoke and query chaincode on a Fabric channel and wait for chaincode events.",
		SilenceUsage: true,
	}
	g.register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(installCmd(g))
	rootCmd.AddCommand(invokeCmd(g))
	rootCmd.AddCommand(queryCmd(g))
	rootCmd.AddCommand(listenCmd(g))
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

// runSDK loads the client identity and runs fn within the lifetime of an SDK
// connected to the configured network
func runSDK(cmd *cobra.Command, g *globalFlags, fn func(ctx reqContext.Context, sdk *fabsdk.FabricSDK) error) error {
	if err := g.validate(); err != nil {
		return err
	}

	identity, err := msp.NewUserFromFiles(g.mspID, g.certFile, g.keyFile)
	if err != nil {
		return errors.WithMessage(err, "failed to load client identity")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := reqContext.WithTimeout(ctx, g.timeout)
	defer cancel()

	var opts []fabsdk.Option
	var ops *operationsServer
	if g.metricsAddr != "" {
		opts = append(opts, fabsdk.WithMetricsProvider(&prometheus.Provider{}))
		ops = newOperationsServer(g.metricsAddr)
		if err := ops.Start(); err != nil {
			return err
		}
		defer ops.Stop()
	}

	return fabsdk.Run(ctx, config.FromFile(g.configFile), identity, func(ctx reqContext.Context, sdk *fabsdk.FabricSDK) error {
		if ops != nil {
			ops.SetHealthChecker(eventHubChecker(sdk))
		}
		logger.Debugf("Running %s as %s", cmd.Name(), identity.Identifier().ID)
		return fn(ctx, sdk)
	}, opts...)
}

func argsToBytes(args []string) [][]byte {
	b := make([][]byte, len(args))
	for i, a := range args {
		b[i] = []byte(a)
	}
	return b
}
