package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nidhogg/nora/internal/ui"
)

type client struct {
	server string
	model  string
	http   *http.Client
}

func main() {
	server := flag.String("server", "http://127.0.0.1:8001", "nora server URL")
	model := flag.String("model", "", "model override")
	flag.Parse()

	c := &client{
		server: strings.TrimRight(*server, "/"),
		model:  *model,
		http:   &http.Client{Timeout: 5 * time.Minute},
	}

	serverModel := c.status()
	if c.model == "" {
		c.model = serverModel
	}
	fmt.Println(ui.Banner(c.model, c.server))
	fmt.Println(ui.Muted("Remote commands: /status, /agents, /runs, /exit"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n" + ui.Prompt(c.model))
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit", "/quit", "exit", "quit":
			fmt.Println(ui.Muted("Goodbye."))
			return
		case "/status":
			c.status()
		case "/agents":
			c.agents()
		case "/runs":
			c.runs()
		default:
			c.send(input)
		}
	}
}

// get decodes the JSON body of a GET into out and reports errors inline.
func (c *client) get(path string, out any) bool {
	resp, err := c.http.Get(c.server + path)
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.Error("request failed: %v", err))
		return false
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) bool {
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		fmt.Fprintln(os.Stderr, ui.Error("server error (%d): %s", resp.StatusCode, e.Error))
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error("failed to parse response: %v", err))
		return false
	}
	return true
}

func (c *client) status() string {
	var health struct {
		Status  string `json:"status"`
		Model   string `json:"model"`
		Version string `json:"version"`
	}
	if !c.get("/api/health", &health) {
		return ""
	}
	fmt.Println(ui.Success("server %s (version %s, model %s)", health.Status, health.Version, health.Model))
	return health.Model
}

func (c *client) agents() {
	var agents []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Kind        string `json:"kind"`
	}
	if !c.get("/api/agents", &agents) {
		return
	}
	if len(agents) == 0 {
		fmt.Println(ui.Muted("No agents registered."))
		return
	}
	rows := make([][]string, len(agents))
	for i, a := range agents {
		rows[i] = []string{a.Name, a.Kind, a.Description}
	}
	fmt.Print(ui.Table([]string{"NAME", "KIND", "DESCRIPTION"}, rows))
}

func (c *client) runs() {
	var runs []struct {
		ID       string        `json:"run_id"`
		Team     string        `json:"team_name"`
		Mode     string        `json:"mode"`
		Success  bool          `json:"success"`
		Duration time.Duration `json:"duration"`
	}
	if !c.get("/api/runs?limit=10", &runs) {
		return
	}
	if len(runs) == 0 {
		fmt.Println(ui.Muted("No runs recorded."))
		return
	}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		status := ui.Success("ok")
		if !r.Success {
			status = ui.Error("failed")
		}
		rows[i] = []string{r.ID, r.Team, r.Mode, status, r.Duration.Round(time.Millisecond).String()}
	}
	fmt.Print(ui.Table([]string{"RUN", "TEAM", "MODE", "STATUS", "DURATION"}, rows))
}

func (c *client) send(message string) {
	body, _ := json.Marshal(map[string]string{"message": message, "model": c.model})
	resp, err := c.http.Post(c.server+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.Error("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	var reply struct {
		Response string        `json:"response"`
		Model    string        `json:"model"`
		Duration time.Duration `json:"duration"`
	}
	if !decode(resp, &reply) {
		return
	}
	fmt.Println(reply.Response)
	fmt.Println(ui.Muted(fmt.Sprintf("%s, %s", reply.Model, reply.Duration.Round(time.Millisecond))))
}
