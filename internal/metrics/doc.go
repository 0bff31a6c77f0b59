// Copyright 2026 arbstr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

/*
Package metrics provides Prometheus-based instrumentation for arbstr's
request plane, trimmed from the teacher's five-domain collector
(HTTP/LLM/Agent/cache/database) down to the three domains a reverse
proxy actually has: ingress HTTP, egress provider calls, and the
embedded store's connection pools — plus a breaker-state gauge with no
teacher equivalent.

# Overview

Collector registers every metric through promauto on first construction,
so callers never manage a prometheus.Registry directly. Metrics are
exposed on a separate port from the proxy's own traffic (see
SPEC_FULL.md's Ambient Stack), matching the teacher's split HTTP/metrics
server convention.

# Core types

  - Collector: holds every CounterVec/HistogramVec/GaugeVec, grouped by
    domain, and exposes one Record* method per domain.

# Capabilities

  - Ingress: request count and duration, by method/path/status class.
  - Egress: provider request count and duration, token counts, and
    actual cost in satoshis, all by provider/model.
  - Circuit breaker: a gauge of each provider's current state, for
    dashboards that want to graph flapping over time (the /health
    endpoint itself does not consult this package).
  - Store: open/idle connection gauges and query-duration histogram per
    pool (write/read).
*/
package metrics
