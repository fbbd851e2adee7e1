package util

import (
	"sync"

	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/ValentinKolb/asyncsrt/lib/native/memnet"
)

var (
	networkOnce sync.Once
	network     *memnet.Network
)

// memnetFactory returns a factory on one network shared by the whole process
func memnetFactory() native.Factory {
	networkOnce.Do(func() { network = memnet.NewNetwork() })
	return network.Factory()
}
