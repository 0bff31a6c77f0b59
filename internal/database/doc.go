// Copyright 2026 arbstr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

/*
Package database wraps GORM's connection pool with health checking,
statistics, and retrying transactions, for the two sqlite pools
internal/store opens (one for writes, one for reads).

# Overview

PoolManager configures database/sql pool limits on top of an
already-opened *gorm.DB, runs a background health-check loop, and
exposes WithTransactionRetry for transient failure recovery.

# Core types

  - PoolManager: holds the GORM handle and its underlying sql.DB,
    exposing DB(), Ping(), Stats(), and Close().
  - PoolConfig: idle/open connection limits, lifetime/idle timeouts, and
    the health-check interval.
  - PoolStats: a JSON-friendly projection of sql.DBStats.
  - TransactionFunc: the callback signature run inside a transaction.

# Capabilities

  - Pool tuning via MaxIdleConns/MaxOpenConns/ConnMaxLifetime.
  - Background PingContext health checks, logged via zap.
  - WithTransaction for a single attempt, WithTransactionRetry for
    exponential backoff retry on transient sqlite lock contention.
*/
package database
