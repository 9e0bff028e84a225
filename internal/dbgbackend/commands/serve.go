package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	cmds "github.com/qt-creator/qt-creator-sub115/internal/commands"
	"github.com/qt-creator/qt-creator-sub115/internal/config"
	"github.com/qt-creator/qt-creator-sub115/internal/enginerpc"
	"github.com/qt-creator/qt-creator-sub115/internal/simengine"
	"github.com/qt-creator/qt-creator-sub115/internal/telemetry"
)

type serveFlags struct {
	engine        string
	byteOrder     string
	listen        string
	programLength int
}

func NewServeCommand(log logr.Logger) *cobra.Command {
	serveConfig := &serveFlags{}
	serveCmd := &cobra.Command{
		Use:   "serve [--engine name] [--byte-order order] [--listen network:address]",
		Short: "Serves a debugger engine to a single controller",
		Long: `Serves a debugger engine to a single controller.

	Without --listen the protocol is spoken over stdin and stdout, which is how a controller launches a local or remote backend.
	With --listen the backend waits for one controller to connect, e.g. --listen unix:/tmp/dbg.sock or --listen tcp:127.0.0.1:4711.`,
		RunE: serve(log, serveConfig),
		Args: cobra.NoArgs,
	}

	serveCmd.Flags().StringVar(&serveConfig.engine, "engine", config.DefaultEngine, "The debugger engine to serve. Only 'sim', the simulated engine, is built in.")
	serveCmd.Flags().StringVar(&serveConfig.byteOrder, "byte-order", "native", "Byte order of frame headers: 'little', 'big' or 'native'. Must match the controller.")
	serveCmd.Flags().StringVar(&serveConfig.listen, "listen", "", "Listen for a controller at network:address ('unix' or 'tcp') instead of using stdin and stdout.")
	serveCmd.Flags().IntVar(&serveConfig.programLength, "sim-program-length", simengine.DefaultProgramLength, "Number of source lines of the program debugged by the simulated engine.")
	cmds.AddMonitorFlags(serveCmd)

	return serveCmd
}

func serve(log logr.Logger, serveConfig *serveFlags) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		log = log.WithName("serve")

		order, orderErr := enginerpc.ParseByteOrder(serveConfig.byteOrder)
		if orderErr != nil {
			return orderErr
		}
		factory, factoryErr := engineFactory(serveConfig, log)
		if factoryErr != nil {
			return factoryErr
		}

		ctx := cmds.Monitor(cmd.Context(), log)

		t, transportErr := openTransport(ctx, cmd, serveConfig.listen, log)
		if transportErr != nil {
			log.Error(transportErr, "Could not open the connection to the controller", "listen", serveConfig.listen)
			return transportErr
		}

		backend := enginerpc.NewBackend(t, factory, enginerpc.BackendConfig{
			ByteOrder: order,
			Log:       log,
			Metrics:   telemetry.NewProtocolMetrics(otel.GetMeterProvider(), otel.GetTracerProvider()),
		})

		log.Info("Serving debugger engine", "engine", serveConfig.engine, "carrier", t.Carrier(), "byteOrder", enginerpc.ByteOrderName(order))
		serveErr := backend.Serve(ctx)
		if serveErr != nil && ctx.Err() != nil && errors.Is(serveErr, ctx.Err()) {
			log.V(1).Info("Serving cancelled")
			return nil
		}
		return serveErr
	}
}

func engineFactory(serveConfig *serveFlags, log logr.Logger) (enginerpc.EngineFactory, error) {
	switch serveConfig.engine {
	case config.DefaultEngine:
		return simengine.Factory(simengine.Config{
			ProgramLength: serveConfig.programLength,
			Log:           log.WithName("simengine"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown debugger engine '%s'", serveConfig.engine)
	}
}

// openTransport returns the connection to the controller: the command's standard streams,
// or the first connection accepted on the listen address.
func openTransport(ctx context.Context, cmd *cobra.Command, listen string, log logr.Logger) (enginerpc.Transport, error) {
	if listen == "" {
		return enginerpc.NewStdioTransport(readCloser(cmd.InOrStdin()), writeCloser(cmd.OutOrStdout())), nil
	}

	network, address, found := strings.Cut(listen, ":")
	if !found || address == "" || (network != "unix" && network != "tcp") {
		return nil, fmt.Errorf("invalid listen address '%s' (expected unix:path or tcp:host:port)", listen)
	}

	if network == "unix" {
		// A socket file left behind by a previous run prevents listening.
		if removeErr := os.Remove(address); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("could not remove stale socket %s: %w", address, removeErr)
		}
	}

	lc := net.ListenConfig{}
	listener, listenErr := lc.Listen(ctx, network, address)
	if listenErr != nil {
		return nil, fmt.Errorf("could not listen on %s: %w", listen, listenErr)
	}
	defer func() { _ = listener.Close() }()

	log.Info("Waiting for a controller to connect", "network", network, "address", listener.Addr().String())
	return enginerpc.Accept(ctx, listener)
}

func readCloser(r io.Reader) io.ReadCloser {
	if rc, isCloser := r.(io.ReadCloser); isCloser {
		return rc
	}
	return io.NopCloser(r)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

func writeCloser(w io.Writer) io.WriteCloser {
	if wc, isCloser := w.(io.WriteCloser); isCloser {
		return wc
	}
	return nopWriteCloser{w}
}
