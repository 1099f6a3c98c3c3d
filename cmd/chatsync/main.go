// Терминальный клиент chatsync: подключается к бэкенду, показывает диалоги
// и события в реальном времени. Для ручной проверки движка против devserver.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hirelink/chatsync/internal/client"
	"github.com/hirelink/chatsync/internal/config"
	"github.com/hirelink/chatsync/internal/logger"
	"github.com/hirelink/chatsync/internal/model"
)

func main() {
	logger.SetPrefix("chatsync")
	login := flag.String("login", "", "dev login: username to request a token from the devserver")
	token := flag.String("token", os.Getenv("CHATSYNC_TOKEN"), "session token (JWT)")
	flag.Parse()

	cfg := config.Load()

	if *token == "" && *login != "" {
		t, err := devLogin(cfg.APIBaseURL, *login)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login: %v\n", err)
			os.Exit(1)
		}
		*token = t
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "a session token is required (-token or -login)")
		os.Exit(1)
	}

	c := client.New(cfg)
	c.OnChange(func() {
		// Redraw hint; the command loop owns the terminal.
		fmt.Print(".")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := c.Connect(ctx, *token)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("connected as %s (%s)\n", c.UserID(), c.ConnectionState())
	fmt.Println("commands: list | select <n> | msgs | send <text> | new <user> | read | who | state | quit")

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "quit", "exit":
			return
		case "state":
			fmt.Println(c.ConnectionState())
		case "who":
			fmt.Println(strings.Join(c.OnlineUsers(), ", "))
		case "list":
			printConversations(c)
		case "select":
			selectConversation(c, arg)
		case "msgs":
			printMessages(c)
		case "send":
			if err := c.SendMessage(model.SendPayload{Content: arg}); err != nil {
				fmt.Println("send:", err)
			}
		case "new":
			newConversation(c, arg)
		case "read":
			markAllRead(c)
		default:
			fmt.Println("unknown command:", cmd)
		}
		if err := c.LastError(); err != nil {
			fmt.Println("!", err)
		}
	}
}

func printConversations(c *client.Client) {
	for i, conv := range c.Conversations() {
		var names []string
		for _, p := range conv.Participants {
			names = append(names, p.Username)
		}
		last := ""
		if conv.LastMessage != nil {
			last = conv.LastMessage.Content
		}
		fmt.Printf("%2d. [%d] %s — %s\n", i+1, conv.UnreadCount, strings.Join(names, ", "), last)
	}
}

func selectConversation(c *client.Client, arg string) {
	convs := c.Conversations()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(convs) {
		fmt.Println("select expects a list number")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.SelectConversation(ctx, convs[n-1].ID, nil); err != nil {
		fmt.Println("select:", err)
	}
}

func printMessages(c *client.Client) {
	me := c.UserID()
	for _, m := range c.Messages() {
		who := m.SenderID
		if who == me {
			who = "me"
		}
		fmt.Printf("%s %-10s %s [%s]\n", m.SentAt.Local().Format("15:04:05"), who, m.Content, m.Status)
	}
}

func newConversation(c *client.Client, arg string) {
	if arg == "" {
		fmt.Println("new expects a user id")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conv, err := c.CreateConversation(ctx, arg)
	if err != nil {
		fmt.Println("new:", err)
		return
	}
	fmt.Println("conversation", conv.ID)
}

func markAllRead(c *client.Client) {
	me := c.UserID()
	var ids []string
	for _, m := range c.Messages() {
		if m.SenderID != me && m.Status != model.MessageStatusRead {
			ids = append(ids, m.ID)
		}
	}
	c.MarkRead(ids)
}

// devLogin requests a dev token from the devserver's login endpoint.
func devLogin(baseURL, username string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(baseURL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
