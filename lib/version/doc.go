// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for bureau-unread.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] may be injected
// at build time via -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/unread/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not injected, the VCS stamps the Go toolchain records
// in the binary fill in commit, dirty flag, and time. Plain "go test"
// builds carry neither and report "unknown".
package version
