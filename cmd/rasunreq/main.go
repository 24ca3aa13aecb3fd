package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/lightningnetwork/lnd/tor"
	"github.com/rasun/rasun/build"
	"github.com/rasun/rasun/nostrnet"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

const (
	defaultRelays  = "wss://relay.damus.io wss://relay.snort.social"
	defaultTimeout = time.Minute
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[rasunreq] %v\n", err)
	os.Exit(1)
}

// newPool connects to the relays given on the command line.
func newPool(ctx *cli.Context) (*nostrnet.Pool, error) {
	var dial nostrnet.DialFunc
	if socks := ctx.GlobalString("socksproxy"); socks != "" {
		timeout := ctx.GlobalDuration("timeout")
		dial = func(_ context.Context, _, addr string) (net.Conn,
			error) {

			return tor.Dial(addr, socks, false, false, timeout)
		}
	}

	return nostrnet.NewPool(&nostrnet.PoolConfig{
		URLs:           strings.Fields(ctx.GlobalString("relays")),
		Dial:           dial,
		ConnectTimeout: ctx.GlobalDuration("timeout"),
		MinBackoff:     time.Second,
		MaxBackoff:     30 * time.Second,
	})
}

// identity parses the requester key, generating a throwaway one by default.
func identity(ctx *cli.Context) (*nostrnet.Identity, error) {
	if !ctx.GlobalBool("askkey") {
		return nostrnet.ParseIdentity(ctx.GlobalString("key"))
	}

	key, err := readPassword("Input nostr secret key: ")
	if err != nil {
		return nil, err
	}

	return nostrnet.ParseIdentity(string(key))
}

func readPassword(text string) ([]byte, error) {
	fmt.Print(text)

	// The variable syscall.Stdin is of a different type in the Windows API
	// that's why we need the explicit cast. And of course the linter
	// doesn't like it either.
	pw, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Println()
	return pw, err
}

func main() {
	app := cli.NewApp()
	app.Name = "rasunreq"
	app.Version = build.Version() + " commit=" + build.Commit
	app.Usage = "request addresses from a rasund instance over nostr"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "relays, r",
			Value: defaultRelays,
			Usage: "Space separated relays the service answers on.",
		},
		cli.StringFlag{
			Name: "key, k",
			Usage: "The nostr secret key to send the request " +
				"with, in hex or nsec form. A new key is " +
				"generated if not set.",
		},
		cli.BoolFlag{
			Name: "askkey",
			Usage: "Read the nostr secret key from the terminal " +
				"instead of the command line.",
		},
		cli.StringFlag{
			Name: "socksproxy",
			Usage: "The host:port of a SOCKS proxy through " +
				"which all connections to the relays " +
				"will be established over.",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: defaultTimeout,
			Usage: "How long to wait for the relays and the reply.",
		},
	}
	app.Commands = []cli.Command{
		getAddressCommand,
		requestCommand,
		keygenCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
