// Command blhost is an interactive console for driving a target's serial
// bootloader: sync, read version, erase flash pages, stream a firmware
// image in and out, jump to the application, or go to an arbitrary
// address.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/h4z3m/bootloader-host/bootloader"
	"github.com/h4z3m/bootloader-host/serial"
)

var (
	device     = flag.String("device", "", "Serial device path (overrides config file)")
	baud       = flag.Int("baud", 0, "Baud rate (overrides config file)")
	configPath = flag.String("config", "", "Path to a JSON config file")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg := &FileConfig{}
	if *configPath != "" {
		loaded, err := loadFileConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		applyDefaults(cfg)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *baud != 0 {
		cfg.Baud = *baud
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	fmt.Println("blhost - serial bootloader host")
	fmt.Println("================================")
	fmt.Printf("Connecting to %s at %d baud...\n", cfg.Device, cfg.Baud)

	transport, err := serial.Open(&serial.Config{
		Device:      cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.readTimeout(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open %s: %v\n", cfg.Device, err)
		os.Exit(1)
	}
	defer transport.Close()

	engine := bootloader.NewEngine(transport,
		bootloader.WithLogger(log),
		bootloader.WithMaxRetries(cfg.MaxRetries),
		bootloader.WithWriteSettleDelay(cfg.writeSettleDelay()),
		bootloader.WithSyncAttemptTimeout(cfg.syncAttemptTimeout()),
		bootloader.WithAckTimeout(cfg.ackTimeout()),
		bootloader.WithResponseTimeout(cfg.responseTimeout()),
	)

	fmt.Println("Connected. Type 'help' for available commands, 'quit' to exit.")
	runLoop(engine)
}

func runLoop(e *bootloader.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "sync":
			if err := e.Sync(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Println("Synced.")

		case "version":
			payload, err := e.Version(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Printf("Version: 0x%02X\n", payload[0])

		case "entercmdmode":
			if err := e.EnterCmdMode(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Println("Entered command mode.")

		case "jumptoapp":
			if err := e.JumpToApp(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Println("Jumped to application.")

		case "gotoaddr":
			addr, err := parseArgs1(args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Usage: gotoaddr <address>\n")
				continue
			}
			if err := e.GotoAddr(ctx, addr); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Println("Done.")

		case "flasherase":
			page, count, err := parseArgs2(args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Usage: flasherase <page> <count>\n")
				continue
			}
			if err := e.FlashErase(ctx, page, count); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v (last nack field 0x%02X)\n", err, e.LastNackField())
				continue
			}
			fmt.Println("Erase complete.")

		case "memwrite":
			if len(args) != 2 {
				fmt.Fprintf(os.Stderr, "Usage: memwrite <address> <file>\n")
				continue
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read %s: %v\n", args[1], err)
				continue
			}
			if err := e.MemWrite(ctx, addr, data); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v (last nack field 0x%02X)\n", err, e.LastNackField())
				continue
			}
			fmt.Printf("Wrote %d bytes.\n", len(data))

		case "memread":
			if len(args) != 3 {
				fmt.Fprintf(os.Stderr, "Usage: memread <address> <length> <file>\n")
				continue
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			length, err := strconv.Atoi(args[1])
			if err != nil || length < 0 {
				fmt.Fprintf(os.Stderr, "Error: invalid length %q\n", args[1])
				continue
			}
			buf := make([]byte, length)
			n, err := e.MemRead(ctx, addr, length, buf)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v (last nack field 0x%02X)\n", err, e.LastNackField())
				continue
			}
			if err := os.WriteFile(args[2], buf[:n], 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to write %s: %v\n", args[2], err)
				continue
			}
			fmt.Printf("Read %d bytes into %s.\n", n, args[2])

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", cmd)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  sync                            - Run the sync handshake")
	fmt.Println("  version                         - Read the target's version byte")
	fmt.Println("  entercmdmode                    - Enter bootloader command mode")
	fmt.Println("  flasherase <page> <count>       - Erase flash pages")
	fmt.Println("  memwrite <addr> <file>          - Write a raw binary file to memory")
	fmt.Println("  memread <addr> <len> <file>     - Read memory into a raw binary file")
	fmt.Println("  gotoaddr <addr>                 - Jump to an arbitrary address")
	fmt.Println("  jumptoapp                       - Jump to the application")
	fmt.Println("  quit/exit/q                     - Exit the program")
	fmt.Println()
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

func parseArgs1(args []string) (uint32, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	return parseAddr(args[0])
}

func parseArgs2(args []string) (uint32, uint32, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	a, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q: %w", args[0], err)
	}
	b, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	return uint32(a), uint32(b), nil
}
