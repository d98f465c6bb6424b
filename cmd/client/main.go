// Command client is a line-oriented chat client. It prints server pushes
// as they arrive and reads slash commands from stdin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"boltchat/pkg/client"
	"boltchat/pkg/protocol"
)

const usage = `commands:
  /check <name>            is the username registered?
  /register <name> <pass>  create an identity and sign in
  /login <name> <pass>     sign in
  /chat <name>             load the conversation with a user
  /send <name> <text...>   send a message
  /undelivered <n>         fetch up to n waiting messages
  /delmsg <id>             delete a message you sent
  /delacct                 delete your account
  /ping <name>             nudge a user
  /quit                    exit
`

func main() {
	addr := flag.String("addr", "127.0.0.1:26310", "server address")
	codec := flag.String("codec", "json", "wire codec: json or compact")
	flag.Parse()

	c, err := client.Dial(*addr, *codec)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Close()
	fmt.Printf("connected to %s\n%s", *addr, usage)

	go printPushes(c)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := runCommand(c, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func printPushes(c *client.Client) {
	for p := range c.Notifications() {
		switch p.Kind {
		case protocol.PushNewMessage:
			fmt.Printf("[%s] %s\n", p.Message.Sender, p.Message.Body)
		case protocol.PushUserAdded:
			fmt.Printf("* %s joined\n", p.Username)
		case protocol.PushUserRemoved:
			fmt.Printf("* %s left\n", p.Username)
		case protocol.PushPresence:
			fmt.Printf("* %s pinged you\n", p.Username)
		}
	}
}

func runCommand(c *client.Client, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/check":
		if len(args) != 1 {
			return fmt.Errorf("usage: /check <name>")
		}
		exists, err := c.CheckUsername(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s registered: %v\n", args[0], exists)
	case "/register":
		if len(args) != 2 {
			return fmt.Errorf("usage: /register <name> <pass>")
		}
		users, err := c.Register(args[0], args[1], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("registered; other users: %s\n", strings.Join(users, ", "))
	case "/login":
		if len(args) != 2 {
			return fmt.Errorf("usage: /login <name> <pass>")
		}
		users, waiting, err := c.Login(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("logged in; %d waiting messages; other users: %s\n", waiting, strings.Join(users, ", "))
	case "/chat":
		if len(args) != 1 {
			return fmt.Errorf("usage: /chat <name>")
		}
		messages, err := c.LoadChat(args[0])
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Printf("%6d [%s] %s\n", m.ID, m.Sender, m.Body)
		}
	case "/send":
		if len(args) < 2 {
			return fmt.Errorf("usage: /send <name> <text...>")
		}
		id, err := c.Send(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("sent (id %d)\n", id)
	case "/undelivered":
		if len(args) != 1 {
			return fmt.Errorf("usage: /undelivered <n>")
		}
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad count %q", args[0])
		}
		messages, err := c.ListUndelivered(n)
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Printf("%6d [%s] %s\n", m.ID, m.Sender, m.Body)
		}
	case "/delmsg":
		if len(args) != 1 {
			return fmt.Errorf("usage: /delmsg <id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad message id %q", args[0])
		}
		if err := c.DeleteMessage(id); err != nil {
			return err
		}
		fmt.Println("deleted")
	case "/delacct":
		if err := c.DeleteAccount(); err != nil {
			return err
		}
		fmt.Println("account deleted")
	case "/ping":
		if len(args) != 1 {
			return fmt.Errorf("usage: /ping <name>")
		}
		if err := c.Ping(args[0]); err != nil {
			return err
		}
		fmt.Println("pinged")
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
	return nil
}
