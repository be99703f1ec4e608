// Package dispatch implements the control dispatcher of spec.md §4.7 (C9):
// it maps operator text commands to aggregator/PM/client actions and
// formats replies. The command-name-to-handler-table shape is grounded on
// the teacher's detector package, where each detector exposes a single
// Process(update) entry point keyed by update type; here a map keyed by
// command name plays the same role.
package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hervehildenbrand/aggie/internal/aggie"
	"github.com/hervehildenbrand/aggie/internal/controlserver"
)

const helpText = `commands:
  help, ?                         this text
  status                          aggregator/PM summary
  status clients                  per-client connect state
  status client <host> <port>     one client's connect state
  list clients                    dump the current fleet view
  poll clients                    force an immediate poll cycle
  reload clients                  reconnect using a freshly re-read client list
  pm connect <url>                (re)connect the PM link
  pm disconnect                   drop the PM link
  pm send <text>                  send a raw TEXT frame to the PM
  shutdown                        stop the aggregator
  close, quit                     end this session`

// Dispatcher wires operator commands to an Aggie.
type Dispatcher struct {
	agg *aggie.Aggie
	ctx context.Context
}

// New builds a dispatcher bound to agg. ctx is used for operations (client
// reconnects) that need cancellation plumbing.
func New(ctx context.Context, agg *aggie.Aggie) *Dispatcher {
	return &Dispatcher{agg: agg, ctx: ctx}
}

// Dispatch implements controlserver.Dispatcher.
func (d *Dispatcher) Dispatch(session *controlserver.Session, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "help", "?":
		return helpText
	case "status":
		return d.dispatchStatus(args)
	case "list":
		return d.dispatchList(args)
	case "poll":
		return d.dispatchPoll(args)
	case "reload":
		return d.dispatchReload(args)
	case "pm":
		return d.dispatchPM(args)
	case "shutdown":
		d.agg.Shutdown()
		return "shutting down"
	case "close", "quit":
		return ""
	default:
		return "Unknown command. HELP shows available commands."
	}
}

// ShouldClose reports whether line (the same text passed to Dispatch)
// signals that the session should be closed after the reply is sent.
func (d *Dispatcher) ShouldClose(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "close", "quit":
		return true
	default:
		return false
	}
}

func (d *Dispatcher) dispatchStatus(args []string) string {
	if len(args) == 0 {
		return formatStatus(d.agg.Status())
	}
	switch strings.ToLower(args[0]) {
	case "clients":
		return d.statusClients()
	case "client":
		if len(args) != 3 {
			return "usage: status client <host> <port>"
		}
		return d.statusClient(args[1], args[2])
	default:
		return "Unknown command. HELP shows available commands."
	}
}

// formatStatus renders the bare "status" reply, one fact per line, matching
// the original aggie::status()/main.cpp uptime line's wording verbatim.
func formatStatus(st aggie.Status) string {
	lines := []string{
		fmt.Sprintf("Uptime: %d seconds", int64(st.Uptime.Seconds())),
	}
	if st.PMConnected {
		lines = append(lines, fmt.Sprintf("Connected to PM @ %s for %d seconds",
			st.PMURL, int64(st.PMConnectedAgo.Seconds())))
	} else {
		lines = append(lines, "Not connected to PM")
	}
	lines = append(lines, fmt.Sprintf("Last message sent to PM: %s", agoOrNever(st.SentAnyPM, st.LastPMSendAgo)))
	lines = append(lines, fmt.Sprintf("Last message received from PM: %s", agoOrNever(st.RecvAnyPM, st.LastPMRecvAgo)))
	lines = append(lines, fmt.Sprintf("Clients connected: %d of %d", st.ConnectedCount, st.TotalCount))
	return strings.Join(lines, "\r\n")
}

func agoOrNever(happened bool, elapsed time.Duration) string {
	if !happened {
		return "never"
	}
	return fmt.Sprintf("%d seconds ago", int64(elapsed.Seconds()))
}

func (d *Dispatcher) statusClients() string {
	statuses := d.agg.ClientStatuses()
	if len(statuses) == 0 {
		return "no clients configured"
	}
	var b strings.Builder
	for i, cs := range statuses {
		if i > 0 {
			b.WriteString("\r\n")
		}
		fmt.Fprintf(&b, "%s:%s connected=%t sent_ago=%s recv_ago=%s",
			cs.Addr.Host, cs.Addr.Port, cs.Connected, cs.SentAgo.Round(1), cs.RecvAgo.Round(1))
	}
	return b.String()
}

func (d *Dispatcher) statusClient(host, port string) string {
	cs, ok := d.agg.ClientStatusByAddr(host, port)
	if !ok {
		return fmt.Sprintf("client not found: %s:%s", host, port)
	}
	return fmt.Sprintf("%s:%s connected=%t sent_ago=%s recv_ago=%s",
		cs.Addr.Host, cs.Addr.Port, cs.Connected, cs.SentAgo.Round(1), cs.RecvAgo.Round(1))
}

func (d *Dispatcher) dispatchList(args []string) string {
	if len(args) == 0 || strings.ToLower(args[0]) != "clients" {
		return "Unknown command. HELP shows available commands."
	}
	nodes := d.agg.AggregatedNodes()
	if len(nodes) == 0 {
		return "no nodes in the current fleet view"
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteString("\r\n")
		}
		fmt.Fprintf(&b, "id=%d age=%d lat=%v lon=%v", n.ID, n.Age, n.Lat, n.Lon)
	}
	return b.String()
}

func (d *Dispatcher) dispatchPoll(args []string) string {
	if len(args) == 0 || strings.ToLower(args[0]) != "clients" {
		return "Unknown command. HELP shows available commands."
	}
	d.agg.PollNow(d.ctx)
	return "poll cycle triggered"
}

func (d *Dispatcher) dispatchReload(args []string) string {
	if len(args) == 0 || strings.ToLower(args[0]) != "clients" {
		return "Unknown command. HELP shows available commands."
	}
	if err := d.agg.Reload(d.ctx); err != nil {
		return fmt.Sprintf("reload failed: %v", err)
	}
	return "clients reloaded"
}

func (d *Dispatcher) dispatchPM(args []string) string {
	if len(args) == 0 {
		return "Unknown command. HELP shows available commands."
	}
	switch strings.ToLower(args[0]) {
	case "connect":
		if len(args) != 2 {
			return "usage: pm connect <url>"
		}
		target, err := url.Parse(args[1])
		if err != nil || target.Host == "" {
			return fmt.Sprintf("unparseable PM url: %q", args[1])
		}
		d.agg.PMConnect(target)
		return "pm connecting"
	case "disconnect":
		d.agg.PMDisconnect()
		return "pm disconnected"
	case "send":
		if len(args) < 2 {
			return "usage: pm send <text>"
		}
		text := strings.Join(args[1:], " ")
		if err := d.agg.PMSend(text); err != nil {
			return fmt.Sprintf("pm send failed: %v", err)
		}
		return "sent"
	default:
		return "Unknown command. HELP shows available commands."
	}
}
