// Copyright 2026 arbstr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

/*
Package server manages the lifecycle of arbstr's HTTP listeners:
non-blocking start, signal-driven graceful shutdown, and asynchronous
error propagation. arbstr runs two Managers side by side — one for the
proxy's own traffic, one for the Prometheus metrics endpoint.

# Overview

Manager wraps net/http.Server, coordinating startup, serving, shutdown,
and error reporting behind a small lifecycle API.

# Core types

  - Manager: holds the http.Server, its net.Listener, and an async error
    channel; exposes Start/Shutdown/WaitForShutdown.
  - Config: listen address, read/write/idle timeouts, max header size,
    and the graceful shutdown timeout.

# Capabilities

  - Non-blocking start: Start runs the server in a background goroutine.
  - Graceful shutdown: Shutdown drains in-flight requests within the
    configured timeout.
  - Signal handling: WaitForShutdown blocks on SIGINT/SIGTERM or a
    server error and then shuts down.
  - Error propagation: Errors() exposes the async error channel.
*/
package server
