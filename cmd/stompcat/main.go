// Command stompcat sends to or subscribes to a STOMP destination.
//
//	stompcat [-config file] send -dest /queue/a [-body text]   # body from stdin when -body is empty
//	stompcat [-config file] subscribe -dest /topic/a [-count n] [-ack client]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/client"
	"github.com/nofeaturesonlybugs/stomp/v2/internal/config"
	"github.com/nofeaturesonlybugs/stomp/v2/internal/logger"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (optional)")
)

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// Diagnostics go to stderr so stdout carries only message bodies.
	logCfg := cfg.Logger.Config()
	if logCfg.OutputPath == "" || logCfg.OutputPath == "stdout" {
		logCfg.OutputPath = "stderr"
	}
	appLogger, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "send":
		err = send(ctx, cfg, appLogger, args)
	case "subscribe":
		err = subscribe(ctx, cfg, appLogger, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		appLogger.Error("stompcat failed", zap.String("command", cmd), zap.Error(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] send|subscribe -dest destination [flags]\n", os.Args[0])
	flag.PrintDefaults()
}

// dial connects with the configured client options.
func dial(ctx context.Context, cfg *config.Config, log *zap.Logger) (*client.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Client.ConnectTimeout)
	defer cancel()
	opts := append(cfg.Client.Options(log),
		client.OnError(func(f stomp.Frame) {
			log.Error("Server error", zap.String("message", f.Header(stomp.HeaderMessage)), zap.ByteString("body", f.Body))
		}),
		client.OnDropped(func() {
			log.Warn("Connection dropped")
		}),
	)
	c, err := client.Dial(dialCtx, cfg.Client.Addr, opts...)
	if err != nil {
		return nil, err
	}
	log.Info("Connected",
		zap.String("addr", cfg.Client.Addr),
		zap.String("session", c.Session()),
		zap.String("version", c.Version()),
		zap.String("server", c.Server()),
	)
	return c, nil
}

// disconnect waits for the DISCONNECT receipt or ctx.
func disconnect(ctx context.Context, c *client.Conn) error {
	receipt, err := c.Disconnect(nil)
	if err != nil {
		c.Close()
		return err
	}
	if _, err = receipt.Wait(ctx); err != nil {
		// No RECEIPT; the server may have stopped reading.
		c.CloseNow()
	} else {
		c.Close()
	}
	c.Wait()
	return err
}

func send(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	dest := fs.String("dest", "", "Destination")
	body := fs.String("body", "", "Message body; stdin when empty")
	contentType := fs.String("content-type", "text/plain", "Content type")
	_ = fs.Parse(args)
	if *dest == "" {
		return fmt.Errorf("send: -dest is required")
	}
	payload := []byte(*body)
	if *body == "" {
		var err error
		if payload, err = io.ReadAll(os.Stdin); err != nil {
			return fmt.Errorf("send: reading stdin: %w", err)
		}
	}
	//
	c, err := dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	headers := stomp.Headers{{Key: stomp.HeaderContentType, Value: *contentType}}
	receipt, err := c.Send(*dest, headers, payload, func(stomp.Frame) {})
	if err != nil {
		c.Close()
		return err
	}
	if _, err = receipt.Wait(ctx); err != nil {
		c.Close()
		return err
	}
	log.Info("Sent", zap.String("destination", *dest), zap.Int("bytes", len(payload)), zap.String("receipt", receipt.ID))
	return disconnect(ctx, c)
}

func subscribe(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	dest := fs.String("dest", "", "Destination")
	count := fs.Int("count", 0, "Exit after this many messages; 0 runs until interrupted")
	ack := fs.String("ack", "auto", "Ack mode: auto, client or client-individual")
	_ = fs.Parse(args)
	if *dest == "" {
		return fmt.Errorf("subscribe: -dest is required")
	}
	//
	c, err := dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	messages := make(chan stomp.Frame, 64)
	done := make(chan struct{})
	headers := stomp.Headers{{Key: stomp.HeaderAck, Value: *ack}}
	if _, err = c.Subscribe(*dest, headers, func(f stomp.Frame) {
		select {
		case messages <- f:
		case <-done:
		}
	}, nil); err != nil {
		c.Close()
		return err
	}
	closed := make(chan struct{})
	go func() {
		c.Wait()
		close(closed)
	}()
	// release unblocks the handler so the RECEIPT of DISCONNECT is read.
	var once sync.Once
	release := func() { once.Do(func() { close(done) }) }
	defer release()
	//
	for received := 0; *count == 0 || received < *count; received++ {
		select {
		case f := <-messages:
			if _, err := os.Stdout.Write(append(f.Body, '\n')); err != nil {
				c.Close()
				return err
			}
			if *ack != "auto" {
				id := f.Header(stomp.HeaderAck)
				if id == "" {
					id = f.Header(stomp.HeaderMessageID)
				}
				if _, err := c.Ack(id, nil); err != nil {
					c.Close()
					return err
				}
			}
		case <-closed:
			return fmt.Errorf("subscribe: connection closed")
		case <-ctx.Done():
			release()
			return disconnect(context.Background(), c)
		}
	}
	release()
	return disconnect(ctx, c)
}
