package memnet

import (
	"testing"

	nativetesting "github.com/ValentinKolb/asyncsrt/lib/native/testing"
)

func Test(t *testing.T) {
	nativetesting.RunNativeTests(t, "memnet", NewNetwork().Factory())
}
