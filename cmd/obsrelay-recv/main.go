// obsrelay-recv is the standalone receiving end of the file relay protocol:
// it listens on a TCP port and stores every pushed file into an output
// folder.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/signlab/obsrelay/internal/log"
	"github.com/signlab/obsrelay/internal/transfer"
)

func main() {
	host := flag.String("host", "0.0.0.0", "host to listen on")
	port := flag.Int("port", 5123, "port to listen on")
	outputFolder := flag.String("output_folder", "./out", "folder to save received files")
	flag.Parse()

	log.Configure(log.Config{Service: "obsrelay-recv"})
	logger := log.WithComponent("recv")

	receiver, err := transfer.NewReceiver(*outputFolder, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if err := receiver.Listen(net.JoinHostPort(*host, strconv.Itoa(*port))); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger.Info().Str("addr", receiver.Addr()).Str("output", *outputFolder).Msg("receiver listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := receiver.Serve(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
