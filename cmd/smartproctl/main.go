package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/AbuAli85/smartprohub-sub000/internal/config"
	"github.com/AbuAli85/smartprohub-sub000/internal/session"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	fileFlag := flag.String("file", "", "attachment path for send")
	flag.Parse()

	profileName := session.Resolve(*profileFlag)
	if err := session.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := config.DefaultListenAddr
	if cfg, err := config.Load(session.ConfigPath()); err == nil && cfg.Daemon.ListenAddr != "" {
		addr = cfg.Daemon.ListenAddr
	}
	c := resty.New().
		SetBaseURL("http://" + addr + "/v1").
		SetTimeout(30 * time.Second)

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: smartproctl login <email>")
			os.Exit(1)
		}
		cmdLogin(c, args[1])
	case "logout":
		must(c.R().Post("/logout"))
		fmt.Println("Signed out.")
	case "chats":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: smartproctl chats <list|open|start> [id]")
			os.Exit(1)
		}
		cmdChats(c, args[1:], *jsonFlag)
	case "send":
		if len(args) < 2 || (len(args) < 3 && *fileFlag == "") {
			fmt.Fprintln(os.Stderr, "usage: smartproctl [--file <path>] send <conversation-id> [text...]")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "), *fileFlag, *jsonFlag)
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: smartproctl read <conversation-id>")
			os.Exit(1)
		}
		must(c.R().Post("/conversations/" + args[1] + "/read"))
		fmt.Println("Marked read.")
	case "bookings":
		cmdBookings(c, args[1:], *jsonFlag)
	case "services":
		cmdServices(c, *jsonFlag)
	case "contracts":
		cmdContracts(c, *jsonFlag)
	case "toasts":
		cmdToasts(c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: smartproctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <email>               Sign in to SmartPRO")
	fmt.Fprintln(os.Stderr, "  logout                      Sign out")
	fmt.Fprintln(os.Stderr, "  chats list                  List conversations")
	fmt.Fprintln(os.Stderr, "  chats open <id>             Open a conversation and show messages")
	fmt.Fprintln(os.Stderr, "  chats start <peer-id>       Find or create a conversation with a user")
	fmt.Fprintln(os.Stderr, "  send <id> [text...]         Send a message (--file attaches a file)")
	fmt.Fprintln(os.Stderr, "  read <id>                   Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  bookings list               List bookings")
	fmt.Fprintln(os.Stderr, "  bookings set <id> <status>  Transition a booking")
	fmt.Fprintln(os.Stderr, "  services                    List the service catalog")
	fmt.Fprintln(os.Stderr, "  contracts                   List contracts")
	fmt.Fprintln(os.Stderr, "  toasts                      Show recent notifications")
}

func must(resp *resty.Response, err error) *resty.Response {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	if resp.IsError() {
		fmt.Fprintf(os.Stderr, "error: daemon returned %d: %s\n", resp.StatusCode(), resp.String())
		os.Exit(1)
	}
	return resp
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func cmdStatus(c *resty.Client, jsonOut bool) {
	var resp struct {
		Profile string `json:"profile"`
		State   string `json:"state"`
		UserID  string `json:"user_id"`
		Role    string `json:"role"`
	}
	must(c.R().SetResult(&resp).Get("/status"))
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile: %s\n", resp.Profile)
	fmt.Printf("State:   %s\n", resp.State)
	if resp.UserID != "" {
		fmt.Printf("User:    %s (%s)\n", resp.UserID, resp.Role)
	} else {
		fmt.Println("User:    signed out")
	}
}

func cmdLogin(c *resty.Client, email string) {
	password := os.Getenv("SMARTPRO_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	var resp struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	must(c.R().
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&resp).
		Post("/login"))
	fmt.Printf("Signed in as %s (%s).\n", resp.UserID, resp.Role)
}

func cmdChats(c *resty.Client, args []string, jsonOut bool) {
	switch args[0] {
	case "list":
		var convs []store.Conversation
		must(c.R().SetResult(&convs).Get("/conversations"))
		if jsonOut {
			outputJSON(convs)
			return
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return
		}
		for _, conv := range convs {
			unread := ""
			if conv.UnreadCount > 0 {
				unread = fmt.Sprintf(" [%d]", conv.UnreadCount)
			}
			fmt.Printf("%-36s %-24s%s  %s\n", conv.ID, conv.PeerName, unread, conv.LastMessage)
		}
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: smartproctl chats open <id>")
			os.Exit(1)
		}
		var msgs []store.Message
		must(c.R().SetResult(&msgs).Post("/conversations/" + args[1] + "/open"))
		if jsonOut {
			outputJSON(msgs)
			return
		}
		printMessages(msgs)
	case "start":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: smartproctl chats start <peer-id>")
			os.Exit(1)
		}
		var conv store.Conversation
		must(c.R().
			SetBody(map[string]string{"peer_id": args[1]}).
			SetResult(&conv).
			Post("/conversations"))
		if jsonOut {
			outputJSON(conv)
			return
		}
		fmt.Printf("Conversation %s with %s\n", conv.ID, conv.PeerName)
	default:
		fmt.Fprintf(os.Stderr, "unknown chats subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdSend(c *resty.Client, conversationID, text, file string, jsonOut bool) {
	var msg store.Message
	req := c.R().SetResult(&msg)
	if file != "" {
		req.SetFile("attachment", file).SetFormData(map[string]string{"content": text})
	} else {
		req.SetBody(map[string]string{"content": text})
	}
	must(req.Post("/conversations/" + conversationID + "/messages"))
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("Queued %s (%s)\n", msg.MsgID, msg.Status)
}

func cmdBookings(c *resty.Client, args []string, jsonOut bool) {
	if len(args) >= 3 && args[0] == "set" {
		var booking store.Booking
		must(c.R().
			SetBody(map[string]string{"status": args[2]}).
			SetResult(&booking).
			Post("/bookings/" + args[1] + "/status"))
		if jsonOut {
			outputJSON(booking)
			return
		}
		fmt.Printf("Booking %s is now %s\n", booking.ID, booking.Status)
		return
	}

	var bookings []store.Booking
	must(c.R().SetResult(&bookings).Get("/bookings"))
	if jsonOut {
		outputJSON(bookings)
		return
	}
	if len(bookings) == 0 {
		fmt.Println("No bookings.")
		return
	}
	for _, b := range bookings {
		at := time.UnixMilli(b.ScheduledAt).Format("2006-01-02 15:04")
		fmt.Printf("%-36s %-10s %s\n", b.ID, b.Status, at)
	}
}

func cmdServices(c *resty.Client, jsonOut bool) {
	var services []store.Service
	must(c.R().SetResult(&services).Get("/services"))
	if jsonOut {
		outputJSON(services)
		return
	}
	for _, s := range services {
		fmt.Printf("%-36s %-24s $%.2f\n", s.ID, s.Title, float64(s.PriceCents)/100)
	}
}

func cmdContracts(c *resty.Client, jsonOut bool) {
	var contracts []store.Contract
	must(c.R().SetResult(&contracts).Get("/contracts"))
	if jsonOut {
		outputJSON(contracts)
		return
	}
	for _, k := range contracts {
		fmt.Printf("%-36s %-12s %s\n", k.ID, k.Status, k.DocumentURL)
	}
}

func cmdToasts(c *resty.Client, jsonOut bool) {
	var toasts []struct {
		Level   string    `json:"level"`
		Message string    `json:"message"`
		Detail  string    `json:"detail"`
		At      time.Time `json:"at"`
	}
	must(c.R().SetResult(&toasts).Get("/toasts"))
	if jsonOut {
		outputJSON(toasts)
		return
	}
	for _, t := range toasts {
		fmt.Printf("%s %-5s %s", t.At.Format(time.RFC3339), t.Level, t.Message)
		if t.Detail != "" {
			fmt.Printf(" (%s)", t.Detail)
		}
		fmt.Println()
	}
}

func printMessages(msgs []store.Message) {
	for _, m := range msgs {
		at := time.UnixMilli(m.CreatedAt).Format("15:04")
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		marker := ""
		switch m.Status {
		case store.StatusSending:
			marker = " …"
		case store.StatusFailed:
			marker = " !"
		}
		body := m.Content
		if body == "" && m.AttachmentName != "" {
			body = "[" + m.AttachmentName + "]"
		}
		fmt.Printf("%s %-20s %s%s\n", at, name, body, marker)
	}
}
