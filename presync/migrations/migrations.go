// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the SQL migrations for the sync schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
