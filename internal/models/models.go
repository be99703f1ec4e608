// Package models defines the data structures shared across aggie's
// poll/parse/aggregate pipeline.
package models

// Address is a client or PM endpoint. Port is kept as text since it is only
// ever echoed back, never arithmetic.
type Address struct {
	Host string
	Port string
}

// ClientNode is one radio neighbour reported by a client's "list cn" reply.
// Identity is ID; the aggregated fleet set orders by ID ascending.
type ClientNode struct {
	ID      uint32
	Age     uint32
	CR      uint32
	Lat     float64
	Lon     float64
	P2PIP   Address
	RadacIP Address
}

// Configuration is one row of a client's "list configs" reply.
type Configuration struct {
	ID     uint32
	Age    uint32
	SrcIP  Address
	Config string
}

// Connection is one row of a client's "list connections" reply.
type Connection struct {
	Dir    string
	PeerID uint32
	PeerIP Address
}

// ColumnSchema is the ordered column-name list from a client's most recent
// HELP (214) reply. column_schema[k] names the k-th whitespace-separated
// token of subsequent row replies until the next HELP reply replaces it.
type ColumnSchema []string
