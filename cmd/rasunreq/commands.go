package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rasun/rasun/dispatch"
	"github.com/rasun/rasun/nostrnet"
	"github.com/urfave/cli"
)

// clockSkew is how far back the reply subscription starts, to allow for a
// service clock running behind ours.
const clockSkew = time.Minute

var getAddressCommand = cli.Command{
	Name:      "getaddress",
	Category:  "Requests",
	Usage:     "Ask a service for a receiving address.",
	ArgsUsage: "service-npub",
	Description: `
	Send an address request to the service and print the address it
	answers with. Asking again returns the same address until it has
	received funds.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "reqpass",
			Usage: "The secret the service requires with requests.",
		},
	},
	Action: getAddress,
}

func getAddress(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "getaddress")
	}

	reply, err := sendRequest(
		ctx, ctx.Args().First(),
		dispatch.KindAddrReq.String()+ctx.String("reqpass"),
	)
	if err != nil {
		return err
	}

	addr, ok := dispatch.ParseAddressReply(reply)
	if !ok {
		return fmt.Errorf("service replied: %v", reply)
	}

	fmt.Println(addr)

	return nil
}

var requestCommand = cli.Command{
	Name:      "request",
	Category:  "Requests",
	Usage:     "Send a raw request and print the reply.",
	ArgsUsage: "service-npub message",
	Action:    rawRequest,
}

func rawRequest(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "request")
	}

	reply, err := sendRequest(ctx, ctx.Args().Get(0), ctx.Args().Get(1))
	if err != nil {
		return err
	}

	fmt.Println(reply)

	return nil
}

var keygenCommand = cli.Command{
	Name:   "keygen",
	Usage:  "Generate a nostr key pair, e.g. for a new service.",
	Action: keygen,
}

func keygen(_ *cli.Context) error {
	id, err := nostrnet.NewIdentity()
	if err != nil {
		return err
	}

	fmt.Printf("nsec: %s\nnpub: %s\n", id.Nsec(), id.Npub())

	return nil
}

// sendRequest sends plaintext to the service and waits for the reply that
// references it.
func sendRequest(ctx *cli.Context, serviceKey,
	plaintext string) (string, error) {

	service, err := nostrnet.ParsePubKey(serviceKey)
	if err != nil {
		return "", err
	}

	id, err := identity(ctx)
	if err != nil {
		return "", err
	}

	pool, err := newPool(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = pool.Stop()
	}()

	timeout := ctx.GlobalDuration("timeout")
	reqCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := pool.Connect(reqCtx); err != nil {
		return "", err
	}

	client := nostrnet.NewClient(id, pool, clock.NewDefaultClock())

	since := nostr.Timestamp(time.Now().Add(-clockSkew).Unix())
	replies, err := client.Subscribe(reqCtx, client.InboxFilter(&since))
	if err != nil {
		return "", err
	}

	reqID, err := client.Publish(reqCtx, service, plaintext)
	if err != nil {
		return "", err
	}

	return awaitReply(reqCtx, replies, service, reqID)
}

// awaitReply returns the first reply from the service that references the
// request.
func awaitReply(ctx context.Context, replies <-chan nostrnet.Incoming,
	service, reqID string) (string, error) {

	for {
		select {
		case msg, ok := <-replies:
			if !ok {
				if err := ctx.Err(); err != nil {
					return "", fmt.Errorf("no reply: %w",
						err)
				}

				return "", errors.New("subscription closed")
			}

			if msg.Err != nil || msg.Counterparty != service {
				continue
			}

			tag := msg.Event.Tags.GetFirst([]string{"e", reqID})
			if tag == nil {
				continue
			}

			return msg.Plaintext, nil

		case <-ctx.Done():
			return "", fmt.Errorf("no reply: %w", ctx.Err())
		}
	}
}
