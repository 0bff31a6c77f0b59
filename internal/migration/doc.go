// Copyright 2026 arbstr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

/*
Package migration applies arbstr's embedded schema migrations, trimmed
from the teacher's three-dialect (postgres/mysql/sqlite) migrator down
to the single database arbstr ever runs against: embedded SQLite.

# Overview

Migration files are embedded via embed.FS and applied through
golang-migrate, giving versioned, forward-only (or explicitly
rolled-back) schema changes without a separate migration binary.

# Core types

  - Migrator: the interface cmd/arbstr's "serve" path uses to apply
    migrations at startup
    (Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close).
  - DefaultMigrator: the golang-migrate-backed implementation.
  - Config: database URL, migrations table name, lock timeout.
  - CLI: a thin formatting layer over Migrator for terminal output.

# Capabilities

  - NewMigratorFromConfig builds a Migrator straight from the loaded
    arbstr config's database path.
  - CLI exposes RunUp/RunDown/RunStatus/RunInfo etc., formatting
    Migrator's structured results as text; no cmd/arbstr subcommand
    calls it.
  - BuildDatabaseURL turns a plain sqlite file path into the sqlite3
    golang-migrate DSN.
*/
package migration
