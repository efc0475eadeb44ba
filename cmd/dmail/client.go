package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shineum/dmail/internal/client"
	"github.com/shineum/dmail/internal/config"
	"github.com/shineum/dmail/internal/keys"
	"github.com/shineum/dmail/internal/mail"
	"github.com/shineum/dmail/internal/secure"
)

// newClient builds a message client from the client, keys and transfer
// configuration.
func newClient(cfg *config.Config) (*client.Client, error) {
	cc := cfg.Client
	var signer *secure.Signer
	if cfg.Keys.HMACFile != "" {
		key, err := keys.LoadSecret(cfg.Keys.HMACFile)
		if err != nil {
			return nil, err
		}
		signer = secure.NewSigner(key)
	}
	return client.New(client.Config{
		Email:        cc.Email,
		TransferAddr: cc.TransferAddr,
		MailboxAddr:  cc.MailboxAddr,
		User:         cc.User,
		Password:     cc.Password,
		Signer:       signer,
		Keys:         keys.NewRing(cfg.Keys.Dir),
	}), nil
}

var sendTo, sendSubject string

func sendFlags(fs *flag.FlagSet) {
	fs.StringVar(&sendTo, "to", "", "comma separated recipient addresses")
	fs.StringVar(&sendSubject, "subject", "", "message subject")
}

func runSend(ctx context.Context, cfg *config.Config, args []string) error {
	if sendTo == "" || sendSubject == "" || len(args) == 0 {
		return usageError("-to addr[,addr] -subject text <data>")
	}

	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	msg, err := c.Send(ctx, mail.ParseAddressList(sendTo), sendSubject, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Printf("sent to %s\n", msg.Recipients())
	return nil
}

func runInbox(ctx context.Context, cfg *config.Config, _ []string) error {
	return withInbox(ctx, cfg, func(_ *client.Client, in *client.Inbox) error {
		list, err := in.List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no messages")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFROM\tSUBJECT")
		for _, s := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\n", s.ID, s.From, s.Subject)
		}
		return w.Flush()
	})
}

func runShow(ctx context.Context, cfg *config.Config, args []string) error {
	id, err := messageID(args)
	if err != nil {
		return err
	}
	return withInbox(ctx, cfg, func(_ *client.Client, in *client.Inbox) error {
		msg, err := in.Show(id)
		if err != nil {
			return err
		}
		printMessage(msg)
		return nil
	})
}

func runDelete(ctx context.Context, cfg *config.Config, args []string) error {
	id, err := messageID(args)
	if err != nil {
		return err
	}
	return withInbox(ctx, cfg, func(_ *client.Client, in *client.Inbox) error {
		if err := in.Delete(id); err != nil {
			return err
		}
		fmt.Printf("deleted %d\n", id)
		return nil
	})
}

func runVerify(ctx context.Context, cfg *config.Config, args []string) error {
	id, err := messageID(args)
	if err != nil {
		return err
	}
	return withInbox(ctx, cfg, func(c *client.Client, in *client.Inbox) error {
		msg, err := in.Show(id)
		if err != nil {
			return err
		}
		ok, err := c.Verify(msg)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("message %d was modified in transit", id)
		}
		fmt.Printf("message %d is intact\n", id)
		return nil
	})
}

func withInbox(ctx context.Context, cfg *config.Config, fn func(*client.Client, *client.Inbox) error) error {
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	in, err := c.OpenInbox(ctx)
	if err != nil {
		return err
	}
	defer in.Close()
	return fn(c, in)
}

func messageID(args []string) (int, error) {
	if len(args) != 1 {
		return 0, usageError("<message-id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, usageError("<message-id>")
	}
	return id, nil
}

func printMessage(msg *mail.Message) {
	fmt.Printf("from:    %s\n", msg.From)
	fmt.Printf("to:      %s\n", msg.Recipients())
	fmt.Printf("subject: %s\n", msg.Subject)
	fmt.Printf("data:    %s\n", msg.Data)
	if msg.Hash != "" {
		fmt.Printf("hash:    %s\n", msg.Hash)
	}
}
