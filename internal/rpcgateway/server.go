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

package rpcgateway

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hyperledger/firefly-common/pkg/httpserver"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/proxyconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/hfuss/mux-prometheus/pkg/middleware"
)

// Server hosts a Gateway behind an HTTP listener, in the same
// Start/Stop/WaitStop shape every command in this family uses.
type Server interface {
	Start() error
	Stop()
	WaitStop() error
}

type gatewayServer struct {
	ctx       context.Context
	cancelCtx func()

	gateway *Gateway

	started       bool
	httpServer    httpserver.HTTPServer
	httpServerDone chan error
}

// NewServer builds the HTTP listener (client WebSocket upgrade at "/", and
// a Prometheus /metrics endpoint instrumented via mux-prometheus) fronting
// a freshly-built Gateway.
func NewServer(ctx context.Context, cfg Config) (Server, error) {
	gw, err := NewGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &gatewayServer{
		gateway:        gw,
		httpServerDone: make(chan error),
	}
	s.ctx, s.cancelCtx = context.WithCancel(ctx)

	s.httpServer, err = httpserver.NewHTTPServer(ctx, "server", s.router(), s.httpServerDone, proxyconfig.ServerConfig)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *gatewayServer) router() *mux.Router {
	instrumentation := middleware.NewMiddleware("jsonrpc_reverseproxy")

	router := mux.NewRouter()
	router.Use(instrumentation.InstrumentHandlerDuration)
	router.Path("/").Methods(http.MethodGet).HandlerFunc(s.gateway.ServeWS)
	router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(s.gateway.registry, promhttp.HandlerOpts{}))
	return router
}

func (s *gatewayServer) Start() error {
	go s.httpServer.ServeHTTP(s.ctx)
	s.started = true
	return nil
}

func (s *gatewayServer) Stop() {
	s.gateway.Close()
	s.cancelCtx()
}

func (s *gatewayServer) WaitStop() (err error) {
	if s.started {
		s.started = false
		err = <-s.httpServerDone
	}
	return err
}
