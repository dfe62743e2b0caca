// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxTokenSize bounds how much of a token file is read. Matrix access
// tokens are a few hundred bytes at most.
const maxTokenSize = 64 << 10

// ReadToken reads an access token from path, or from stdin when path
// is "-". Surrounding whitespace is trimmed. A token file that the
// group or other users can read is rejected.
func ReadToken(path string) (*Buffer, error) {
	var data []byte
	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("secret: reading stdin: %w", err)
			}
			return nil, fmt.Errorf("secret: stdin is empty")
		}
		data = bytes.Clone(scanner.Bytes())
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("secret: %w", err)
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("secret: %w", err)
		}
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return nil, fmt.Errorf("secret: token file %s has mode %04o; it must not be readable by group or others", path, mode)
		}

		data, err = io.ReadAll(io.LimitReader(file, maxTokenSize))
		if err != nil {
			wipe(data)
			return nil, fmt.Errorf("secret: reading %s: %w", path, err)
		}
	}
	defer wipe(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: token in %s is empty", path)
	}
	return NewFromBytes(trimmed)
}
