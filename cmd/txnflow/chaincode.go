/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	reqContext "context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hyperledger/fabric-txnflow/pkg/client/channel"
	"github.com/hyperledger/fabric-txnflow/pkg/client/resmgmt"
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/retry"
	"github.com/hyperledger/fabric-txnflow/pkg/fabsdk"
)

type chaincodeFlags struct {
	name    string
	path    string
	version string
	pkgFile string
	fcn     string
	args    []string
	retries int
}

func installCmd(g *globalFlags) *cobra.Command {
	f := &chaincodeFlags{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install chaincode on the channel peers and instantiate it.",
		Long:  "Install chaincode on every channel peer, then instantiate it and wait for the instantiate transaction to commit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.name == "" || f.path == "" || f.version == "" || f.pkgFile == "" {
				return errors.New("the required parameters 'name', 'path', 'version' and 'package' must be set")
			}
			ccPackage, err := readPackage(f.pkgFile)
			if err != nil {
				return err
			}
			return runSDK(cmd, g, func(ctx reqContext.Context, sdk *fabsdk.FabricSDK) error {
				ccArgs := argsToBytes(f.args)
				if f.fcn != "" {
					ccArgs = append([][]byte{[]byte(f.fcn)}, ccArgs...)
				}
				resp, err := sdk.ResourceClient().InstallAndInstantiate(ctx, resmgmt.InstallAndInstantiateRequest{
					Name:    f.name,
					Path:    f.path,
					Version: f.version,
					Package: ccPackage,
					Args:    ccArgs,
				})
				for _, installed := range resp.Installed {
					fmt.Fprintf(cmd.OutOrStdout(), "installed on %s: %d\n", installed.Target, installed.Status)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "instantiated in tx %s: %s (block %d)\n",
					resp.Instantiate.TransactionID, resp.Instantiate.TxValidationCode, resp.Instantiate.BlockNumber)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.name, "name", "n", "", "Name of the chaincode")
	flags.StringVarP(&f.path, "path", "p", "", "Path of the chaincode")
	flags.StringVarP(&f.version, "version", "v", "", "Version of the chaincode")
	flags.StringVar(&f.pkgFile, "package", "", "File holding the chaincode code package, such as a gzipped tar of the source")
	flags.StringVarP(&f.fcn, "fcn", "f", "init", "Init function of the chaincode")
	flags.StringArrayVarP(&f.args, "args", "a", nil, "Argument of the init function (repeatable)")
	return cmd
}

func readPackage(file string) ([]byte, error) {
	ccPackage, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chaincode package")
	}
	if len(ccPackage) == 0 {
		return nil, errors.Errorf("chaincode package %s is empty", file)
	}
	return ccPackage, nil
}

func invokeCmd(g *globalFlags) *cobra.Command {
	f := &chaincodeFlags{}
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Invoke chaincode and wait for the transaction to commit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.name == "" || f.fcn == "" {
				return errors.New("the required parameters 'name' and 'fcn' must be set")
			}
			return runSDK(cmd, g, func(ctx reqContext.Context, sdk *fabsdk.FabricSDK) error {
				var opts []channel.RequestOption
				if f.retries > 0 {
					retryOpts := retry.DefaultOpts
					retryOpts.Attempts = f.retries
					opts = append(opts, channel.WithRetry(retryOpts))
				}
				resp, err := sdk.ChannelClient().Invoke(ctx, channel.Request{ChaincodeID: f.name, Fcn: f.fcn, Args: argsToBytes(f.args)}, opts...)
				if err != nil {
					if resp.TransactionID != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "tx %s ended in state %s\n", resp.TransactionID, resp.State)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tx %s: %s (block %d)\n", resp.TransactionID, resp.TxValidationCode, resp.BlockNumber)
				if len(resp.Payload) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", resp.Payload)
				}
				return nil
			})
		},
	}
	addInvokeFlags(cmd, f)
	cmd.Flags().IntVar(&f.retries, "retries", 0, "Resubmit the transaction as a new one up to this many times after a transient failure such as a read conflict")
	return cmd
}

func queryCmd(g *globalFlags) *cobra.Command {
	f := &chaincodeFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query chaincode. Nothing is submitted for ordering.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.name == "" || f.fcn == "" {
				return errors.New("the required parameters 'name' and 'fcn' must be set")
			}
			return runSDK(cmd, g, func(ctx reqContext.Context, sdk *fabsdk.FabricSDK) error {
				resp, err := sdk.ChannelClient().Query(ctx, channel.Request{ChaincodeID: f.name, Fcn: f.fcn, Args: argsToBytes(f.args)})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", resp.Payload)
				return nil
			})
		},
	}
	addInvokeFlags(cmd, f)
	return cmd
}

func addInvokeFlags(cmd *cobra.Command, f *chaincodeFlags) {
	flags := cmd.Flags()
	flags.StringVarP(&f.name, "name", "n", "", "Name of the chaincode")
	flags.StringVarP(&f.fcn, "fcn", "f", "", "Chaincode function")
	flags.StringArrayVarP(&f.args, "args", "a", nil, "Argument of the function (repeatable)")
}

func listenCmd(g *globalFlags) *cobra.Command {
	var name, pattern string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for a chaincode event whose name matches a pattern.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || pattern == "" {
				return errors.New("the required parameters 'name' and 'pattern' must be set")
			}
			return runSDK(cmd, g, func(ctx reqContext.Context, sdk *fabsdk.FabricSDK) error {
				event, err := sdk.ChannelClient().AwaitChaincodeEvent(ctx, name, pattern, wait)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "event %s from tx %s (block %d): %s\n", event.EventName, event.TxID, event.BlockNumber, event.Payload)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&name, "name", "n", "", "Name of the chaincode")
	flags.StringVarP(&pattern, "pattern", "e", "", "Regular expression matched against event names")
	flags.DurationVarP(&wait, "wait", "w", 20*time.Second, "Time to wait for the event")
	return cmd
}
