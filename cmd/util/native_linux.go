//go:build linux

package util

import (
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/ValentinKolb/asyncsrt/lib/native/unixnet"
)

func unixnetFactory(namespace string) (native.Factory, error) {
	return unixnet.Factory(namespace), nil
}
