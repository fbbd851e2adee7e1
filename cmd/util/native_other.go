//go:build !linux

package util

import (
	"fmt"
	"runtime"

	"github.com/ValentinKolb/asyncsrt/lib/native"
)

func unixnetFactory(string) (native.Factory, error) {
	return nil, fmt.Errorf("native unixnet is not available on %s", runtime.GOOS)
}
