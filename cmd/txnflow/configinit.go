/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"

	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
)

type configInitFlags struct {
	output       string
	channel      string
	org          string
	mspID        string
	peers        []string
	orderer      string
	minResponses int
	eventType    string
	metrics      string
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage network config files.",
	}
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	f := &configInitFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a network config for a single organization channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.networkConfig()
			if err != nil {
				return err
			}
			raw, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(err, "failed to marshal network config")
			}
			if f.output == "" || f.output == "-" {
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			}
			if err := os.WriteFile(f.output, raw, 0644); err != nil {
				return errors.Wrapf(err, "failed to write network config to %s", f.output)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "network config written to %s\n", f.output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "Output file. The config is written to stdout when empty")
	flags.StringVarP(&f.channel, "channel", "c", "", "Channel name")
	flags.StringVar(&f.org, "org", "org1", "Organization of the client and the peers")
	flags.StringVar(&f.mspID, "mspid", "Org1MSP", "MSP ID of the organization")
	flags.StringArrayVar(&f.peers, "peer", nil, "Channel peer as name=url (repeatable)")
	flags.StringVar(&f.orderer, "orderer", "", "Orderer URL")
	flags.IntVar(&f.minResponses, "min-responses", 1, "Number of matching endorsements required")
	flags.StringVar(&f.eventType, "event-type", config.DeliverType, "Event service type: deliver or deliverfiltered")
	flags.StringVar(&f.metrics, "metrics", config.MetricsDisabled, "Metrics provider: disabled or prometheus")
	return cmd
}

// networkConfig builds the config and checks it the same way it is checked on load
func (f *configInitFlags) networkConfig() (*config.NetworkConfig, error) {
	if f.channel == "" {
		return nil, errors.New("the required parameter 'channel' is empty. Rerun the command with --channel")
	}
	if f.orderer == "" {
		return nil, errors.New("the required parameter 'orderer' is empty. Rerun the command with --orderer")
	}
	if len(f.peers) == 0 {
		return nil, errors.New("at least one --peer name=url is required")
	}

	cfg := &config.NetworkConfig{
		Client: config.ClientConfig{
			Organization: f.org,
			Logging:      config.LoggingConfig{Level: "info"},
			Metrics:      config.MetricsConfig{Provider: f.metrics},
		},
		Channel: config.ChannelConfig{
			Name:        f.channel,
			Endorsement: config.EndorsementConfig{MinResponses: f.minResponses},
		},
		Organizations: map[string]config.OrganizationConfig{},
		Peers:         map[string]config.PeerConfig{},
		Orderer:       config.OrdererConfig{URL: f.orderer},
		EventService: config.EventServiceConfig{
			Type: f.eventType,
			Seek: config.SeekNewest,
		},
	}

	org := config.OrganizationConfig{MSPID: f.mspID}
	for _, p := range f.peers {
		name, url, ok := strings.Cut(p, "=")
		if !ok || name == "" || url == "" {
			return nil, errors.Errorf("invalid peer [%s]: expecting name=url", p)
		}
		if _, exists := cfg.Peers[name]; exists {
			return nil, errors.Errorf("peer %s is listed more than once", name)
		}
		cfg.Peers[name] = config.PeerConfig{URL: url}
		cfg.Channel.Peers = append(cfg.Channel.Peers, name)
		org.Peers = append(org.Peers, name)
	}
	cfg.Organizations[f.org] = org

	// defaults are rendered so the written file shows every setting
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal network config")
	}
	checked, err := config.Load(config.FromRaw(raw, "yaml"))
	if err != nil {
		return nil, errors.WithMessage(err, "invalid network config")
	}
	return checked, nil
}
