// Command wireserver runs a standalone echo server over the wire
// protocol, the same role the teacher's example/echo command plays:
// a minimal driver that wires a Handler into the server and starts it.
package main

import (
	"flag"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/Allenxuxu/gev/log"
	"github.com/tarodb/wire/protocol"
	"github.com/tarodb/wire/server"
)

func main() {
	var port int
	var workers int
	var idle time.Duration

	flag.IntVar(&port, "port", 5433, "server port")
	flag.IntVar(&workers, "workers", -1, "num I/O workers (-1: one per CPU)")
	flag.DurationVar(&idle, "idle", 0, "idle connection timeout (0: disabled)")
	flag.Parse()

	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			log.Error(err)
		}
	}()

	log.Info("wire: starting")

	s, err := server.New(
		protocol.Network("tcp"),
		protocol.Addr(":"+strconv.Itoa(port)),
		protocol.NumWorkers(workers),
		protocol.IdleTime(idle),
		protocol.WithHandlerFactory(newEchoHandler),
	)
	if err != nil {
		log.Errorf("wire: failed to create server: %v", err)
		return
	}

	s.RunEvery(time.Second*20, func() {
		log.Infof("wire: %d connections tracked", s.Registry().Len())
	})

	s.Start()
	log.Info("wire: started, serving forever")
	select {}
}
