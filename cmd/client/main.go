// Command client is a CLI front end for the key/value server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/redikv/redikv"
)

var fchan = color.New(color.FgHiCyan).SprintFunc()

func main() {
	zerolog.SetGlobalLevel(logLevel())

	app := &cli.App{
		Name:  "redikv",
		Usage: "talk to a redikv server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "127.0.0.1", Usage: "server host"},
			&cli.IntFlag{Name: "port", Value: 6379, Usage: "server port"},
		},
		Commands: []*cli.Command{
			pingCommand,
			getCommand,
			setCommand,
			publishCommand,
			subscribeCommand,
			delCommand,
			existsCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func logLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(os.Getenv("ZEROLOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func dial(c *cli.Context) (*redikv.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.String("host"), c.Int("port"))
	return redikv.Dial(addr, 5*time.Second)
}

var pingCommand = &cli.Command{
	Name:      "ping",
	Usage:     "check connectivity, optionally echoing a message",
	ArgsUsage: "[msg]",
	Action: func(c *cli.Context) error {
		client, err := dial(c)
		if err != nil {
			return err
		}
		defer client.Close()

		reply, err := client.Ping(c.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "fetch a key's value",
	ArgsUsage: "<key>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("get: expected exactly one key")
		}
		client, err := dial(c)
		if err != nil {
			return err
		}
		defer client.Close()

		value, ok, err := client.Get(c.Args().First())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(nil)")
			return nil
		}
		fmt.Println(string(value))
		return nil
	},
}

var setCommand = &cli.Command{
	Name:      "set",
	Usage:     "store a value under a key",
	ArgsUsage: "<key> <value>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "expires", Usage: "expire after this many seconds (0 = no expiry)"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("set: expected a key and a value")
		}
		client, err := dial(c)
		if err != nil {
			return err
		}
		defer client.Close()

		var expire time.Duration
		if secs := c.Int("expires"); secs > 0 {
			expire = time.Duration(secs) * time.Second
		}
		if err := client.Set(c.Args().Get(0), []byte(c.Args().Get(1)), expire); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var publishCommand = &cli.Command{
	Name:      "publish",
	Usage:     "publish a message to a channel",
	ArgsUsage: "<channel> <message>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("publish: expected a channel and a message")
		}
		client, err := dial(c)
		if err != nil {
			return err
		}
		defer client.Close()

		n, err := client.Publish(c.Args().Get(0), []byte(c.Args().Get(1)))
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var subscribeCommand = &cli.Command{
	Name:      "subscribe",
	Usage:     "subscribe to one or more channels and print messages as they arrive",
	ArgsUsage: "<channel> [channel...]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return fmt.Errorf("subscribe: expected at least one channel")
		}
		client, err := dial(c)
		if err != nil {
			return err
		}
		defer client.Close()

		sub, err := client.Subscribe(c.Args().Slice()...)
		if err != nil {
			return err
		}
		for {
			msg, err := sub.Next()
			if err != nil {
				return err
			}
			fmt.Printf("from = %s; %s\n", fchan(fmt.Sprintf("%q", msg.Channel)), msg.Payload)
		}
	},
}

var delCommand = &cli.Command{
	Name:      "del",
	Usage:     "delete one or more keys",
	ArgsUsage: "<key> [key...]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return fmt.Errorf("del: expected at least one key")
		}
		client, err := dial(c)
		if err != nil {
			return err
		}
		defer client.Close()

		n, err := client.Del(c.Args().Slice()...)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var existsCommand = &cli.Command{
	Name:      "exists",
	Usage:     "count how many of the given keys are present",
	ArgsUsage: "<key> [key...]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return fmt.Errorf("exists: expected at least one key")
		}
		client, err := dial(c)
		if err != nil {
			return err
		}
		defer client.Close()

		n, err := client.Exists(c.Args().Slice()...)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}
