// Reply parsing (C7): turns the client wire protocol's numeric-coded,
// whitespace-separated tabular replies into typed records using the most
// recently advertised column schema. Grounded on the teacher's
// rislive.ParseMessage — a tolerant, field-by-field decode that ignores what
// it doesn't recognise rather than failing the whole message.
package radioclient

import (
	"strconv"
	"strings"

	"github.com/hervehildenbrand/aggie/internal/models"
)

// Reply codes, spec.md §4.5.
const (
	CodeReady          = 200
	CodeCommandOutput  = 201
	CodeBanner         = 211
	CodeHelp           = 214
	CodeDisconnecting  = 221
	CodeParseError400  = 400
	CodeParseError401  = 401
	CodeBusy           = 500
)

// ListKind identifies which of the three polled datasets a reply belongs to.
type ListKind string

const (
	ListCN          ListKind = "cn"
	ListConfigs     ListKind = "configs"
	ListConnections ListKind = "connections"
)

// commandKind maps a sent command to the dataset it populates.
func commandKind(cmd string) (ListKind, bool) {
	switch strings.TrimSpace(cmd) {
	case "list cn":
		return ListCN, true
	case "list configs":
		return ListConfigs, true
	case "list connections":
		return ListConnections, true
	default:
		return "", false
	}
}

// ParseReplyLine splits a wire line into its numeric code and whitespace
// tokens, normalising tabs to spaces first per spec.md §6.
func ParseReplyLine(line string) (code int, tokens []string, ok bool) {
	normalized := strings.ReplaceAll(line, "\t", " ")
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return 0, nil, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, nil, false
	}
	return n, fields[1:], true
}

// buildClientNode applies tokens to a ClientNode by schema field name,
// per spec.md §4.5's "list cn" field table. Unknown columns are ignored and
// leave their field at the zero value.
func buildClientNode(schema []string, tokens []string) models.ClientNode {
	var node models.ClientNode
	for k, tok := range tokens {
		if k >= len(schema) {
			break
		}
		switch schema[k] {
		case "ID":
			node.ID = parseUint32(tok)
		case "AGE":
			node.Age = parseUint32(tok)
		case "CR":
			node.CR = parseUint32(tok)
		case "LAT":
			node.Lat = parseFloat64(tok)
		case "LON":
			node.Lon = parseFloat64(tok)
		case "P2P_IP":
			node.P2PIP = parseTokenAddress(tok)
		case "RADAC_IP":
			node.RadacIP = parseTokenAddress(tok)
		}
	}
	return node
}

// buildConfiguration applies tokens to a Configuration per the "list
// configs" field table.
func buildConfiguration(schema []string, tokens []string) models.Configuration {
	var cfg models.Configuration
	for k, tok := range tokens {
		if k >= len(schema) {
			break
		}
		switch schema[k] {
		case "ID":
			cfg.ID = parseUint32(tok)
		case "AGE":
			cfg.Age = parseUint32(tok)
		case "SRC_IP":
			cfg.SrcIP = parseTokenAddress(tok)
		case "CONFIG":
			cfg.Config = tok
		}
	}
	return cfg
}

// buildConnection applies tokens to a Connection per the "list connections"
// field table.
func buildConnection(schema []string, tokens []string) models.Connection {
	var conn models.Connection
	for k, tok := range tokens {
		if k >= len(schema) {
			break
		}
		switch schema[k] {
		case "DIR":
			conn.Dir = tok
		case "PEER_ID":
			conn.PeerID = parseUint32(tok)
		case "PEER_IP":
			conn.PeerIP = parseTokenAddress(tok)
		}
	}
	return conn
}

func parseUint32(s string) uint32 {
	n, _ := strconv.ParseUint(s, 10, 32)
	return uint32(n)
}

func parseFloat64(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseTokenAddress parses a single whitespace token of the form
// "host:port" into an Address. Malformed tokens yield the zero Address,
// consistent with the "unknown column leaves field at zero value" rule.
func parseTokenAddress(tok string) models.Address {
	idx := strings.LastIndex(tok, ":")
	if idx <= 0 || idx == len(tok)-1 {
		return models.Address{}
	}
	return models.Address{Host: tok[:idx], Port: tok[idx+1:]}
}
