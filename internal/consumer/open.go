// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package consumer

import (
	"io"
	"os"
)

func openPath(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
