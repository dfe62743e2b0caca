// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for bureau-unread.
//
// Configuration is loaded from a single file specified by either the
// BUREAU_UNREAD_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search: if neither is given,
// [Load] returns [ErrNoConfig].
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production defaults to JSON logs.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_STATE_HOME}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// A minimal file for a live account:
//
//	matrix:
//	  homeserver_url: https://matrix.example.org
//	  user_id: "@me:example.org"
//	  token_file: ${HOME}/.config/bureau-unread/token
//	feed:
//	  listen: 127.0.0.1:8787
//
// Setting fixture.path instead of the matrix section drives the
// daemon from a local fixture file.
package config
