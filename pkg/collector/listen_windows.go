package collector

import (
	"net"

	winio "github.com/Microsoft/go-winio"
)

func listenNamedPipe(name string) (net.Listener, error) {
	return winio.ListenPipe(`\\.\pipe\`+name, nil)
}
