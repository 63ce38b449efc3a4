// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hyperledger/firefly-common/pkg/config"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/wsclient"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/proxyconfig"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/reverseproxy"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/rpcgateway"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var sigs = make(chan os.Signal, 1)

var rootCmd = &cobra.Command{
	Use:   "jsonrpc-reverseproxy",
	Short: "JSON-RPC reverse-proxy multiplexer",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var cfgFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "config file")
	rootCmd.AddCommand(versionCommand())
	rootCmd.AddCommand(configCommand())
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	// Read the configuration
	proxyconfig.Reset()
}

func run() error {

	initConfig()
	err := config.ReadConfig("jsonrpc-reverseproxy", cfgFile)

	// Setup logging after reading config (even if failed), to output header correctly
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	ctx = log.WithLogger(ctx, logrus.WithField("pid", fmt.Sprintf("%d", os.Getpid())))
	ctx = log.WithLogger(ctx, logrus.WithField("prefix", "jsonrpc-reverseproxy"))

	config.SetupLogging(ctx)

	// Deferred error return from reading config
	if err != nil {
		cancelCtx()
		return i18n.WrapError(ctx, err, i18n.MsgConfigFailed)
	}

	// Setup signal handling to cancel the context, which shuts down the API Server
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.L(ctx).Infof("Shutting down due to %s", sig.String())
		cancelCtx()
	}()

	server, err := rpcgateway.NewServer(ctx, gatewayConfig())
	if err != nil {
		return err
	}
	return runServer(server)
}

// gatewayConfig translates the registered proxyconfig keys into the struct
// rpcgateway.NewServer expects, minting one wsclient.WSConfig per configured
// backend URL from the shared backend connection settings.
func gatewayConfig() rpcgateway.Config {
	urls := strings.Split(config.GetString(proxyconfig.BackendURLs), ",")
	backends := make([]wsclient.WSConfig, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		backends = append(backends, wsclient.WSConfig{
			HTTPURL:                u,
			WSKeyPath:              config.GetString(proxyconfig.BackendWSKeyPath),
			HeartbeatInterval:      config.GetDuration(proxyconfig.BackendHeartbeatInterval),
			InitialConnectAttempts: config.GetInt(proxyconfig.BackendInitialConnectAttempts),
		})
	}
	return rpcgateway.Config{
		ProxyConfig: reverseproxy.Config{
			RandomSeed: config.GetInt64(proxyconfig.RandomSeed),
		},
		ClientDefaults: reverseproxy.ClientConfig{
			MaxUnansweredParallelRequests:   config.GetInt(proxyconfig.ClientMaxUnansweredRequests),
			MaxLegacyAPISubscriptions:       config.GetInt(proxyconfig.ClientMaxLegacySubscriptions),
			MaxChainHeadFollowSubscriptions: config.GetInt(proxyconfig.ClientMaxChainHeadFollows),
			MaxTransactionsSubscriptions:    config.GetInt(proxyconfig.ClientMaxTransactionWatches),
		},
		Backends:          backends,
		HealthCheckMethod: config.GetString(proxyconfig.BackendHealthCheckMethod),
	}
}

func runServer(server rpcgateway.Server) error {
	err := server.Start()
	if err != nil {
		return err
	}
	return server.WaitStop()
}
