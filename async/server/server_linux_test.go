//go:build linux

package server

import (
	"fmt"
	"os"
	"testing"

	"github.com/ValentinKolb/asyncsrt/async/rw"
	"github.com/ValentinKolb/asyncsrt/lib/native/unixnet"
)

func TestBulkTransferUnixnet(t *testing.T) {
	if testing.Short() {
		t.Skip("bulk transfer in short mode")
	}

	factory := unixnet.Factory(fmt.Sprintf("asrt-server-test-%d", os.Getpid()))
	runBulkTransfer(t, factory, factory, 9760, rw.WriteChunksYielding)
}
