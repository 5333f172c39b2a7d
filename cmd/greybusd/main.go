// File: cmd/greybusd/main.go
//
// greybusd wires the operation engine to either the TCP or UART
// transport and serves a control-only cport until interrupted. Shaped
// after examples/echo/main.go's signal.NotifyContext shutdown pattern
// in momentics-hioload-ws.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/greybus-run/greybus/engine"
	"github.com/greybus-run/greybus/operation"
	"github.com/greybus-run/greybus/result"
	"github.com/greybus-run/greybus/transport/tcp"
	"github.com/greybus-run/greybus/transport/uart"
)

func main() {
	var (
		backend  = flag.String("transport", "tcp", `transport backend: "tcp" or "uart"`)
		cportsN  = flag.Int("cports", 1, "number of logical cports to serve")
		basePort = flag.Int("base-port", tcp.BasePort, "first TCP port (cport N binds base-port+N); tcp only")
		device   = flag.String("device", "/dev/ttyUSB0", "serial device path; uart only")
		baud     = flag.Uint("baud", 115200, "serial baud rate; uart only")
		instance = flag.String("mdns-instance", "greybus", "DNS-SD instance name advertised for _greybus._tcp.local.; tcp only")
		noMDNS   = flag.Bool("no-mdns", false, "disable the DNS-SD advertisement; tcp only")
	)
	flag.Parse()

	if err := run(*backend, *cportsN, *basePort, *device, uint32(*baud), *instance, *noMDNS); err != nil {
		log.Fatalf("greybusd: %v", err)
	}
}

func run(backend string, cportsN, basePort int, device string, baud uint32, instance string, noMDNS bool) error {
	var eng *engine.Engine

	switch backend {
	case "tcp":
		t := tcp.New(tcp.Config{
			CPortCount:      cportsN,
			BasePort:        basePort,
			ServiceInstance: instance,
			DisableMDNS:     noMDNS,
		}, func(cport uint16, frame []byte) error { return eng.RxHandler(cport, frame) })
		eng = engine.New(engine.DefaultConfig(cportsN), t)
	case "uart":
		port, err := uart.OpenDevicePort(device, baud)
		if err != nil {
			return fmt.Errorf("open serial device: %w", err)
		}
		t := uart.New(uart.Config{Port: port}, func(cport uint16, frame []byte) error { return eng.RxHandler(cport, frame) })
		eng = engine.New(engine.DefaultConfig(cportsN), t)
	default:
		return fmt.Errorf("unknown transport %q", backend)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		if err := eng.Shutdown(); err != nil {
			log.Printf("greybusd: shutdown: %v", err)
		}
	}()

	for cport := 0; cport < cportsN; cport++ {
		if err := eng.RegisterDriver(uint16(cport), -1, controlDriver(cport)); err != nil {
			return fmt.Errorf("register cport %d: %w", cport, err)
		}
		if err := eng.Listen(uint16(cport)); err != nil {
			return fmt.Errorf("listen cport %d: %w", cport, err)
		}
	}

	log.Printf("greybusd: serving %d cport(s) over %s", cportsN, backend)
	<-ctx.Done()
	log.Printf("greybusd: shutting down")
	return nil
}

// controlDriver answers type 0x02 ("probe") with a payload-free success,
// a placeholder control-cport driver until a real device-class driver is
// registered in its place. Pings are answered by the engine itself; any
// other type gets the engine's Invalid response.
func controlDriver(cport int) *engine.Driver {
	return &engine.Driver{
		Name: fmt.Sprintf("control-cport-%d", cport),
		Handlers: []engine.OperationHandler{
			{Type: 0x02, Name: "probe", Handler: func(op *operation.Operation) result.Code {
				return result.Success
			}},
		},
	}
}
