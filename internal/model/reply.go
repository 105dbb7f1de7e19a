package model

import (
	"strconv"
	"strings"
)

type (
	// ServerReply is the structured form of one server response before the
	// envelope codec turns it into a CRLF block.
	ServerReply struct {
		Versions []int
		Nut      string
		Tif      Tif
		Qry      string
		URL      string // success redirect, only for cps conversations
		Suk      string
		Can      string
		Ask      string
	}
)

// Fields returns the reply's name-value pairs in emit order. Optional
// fields are omitted when empty.
func (r *ServerReply) Fields() [][2]string {
	vers := make([]string, len(r.Versions))
	for i, v := range r.Versions {
		vers[i] = strconv.Itoa(v)
	}

	pairs := [][2]string{
		{"ver", strings.Join(vers, ",")},
		{"nut", r.Nut},
		{"tif", r.Tif.Hex()},
		{"qry", r.Qry},
	}
	if r.URL != "" {
		pairs = append(pairs, [2]string{"url", r.URL})
	}
	if r.Suk != "" {
		pairs = append(pairs, [2]string{"suk", r.Suk})
	}
	if r.Can != "" {
		pairs = append(pairs, [2]string{"can", r.Can})
	}
	if r.Ask != "" {
		pairs = append(pairs, [2]string{"ask", r.Ask})
	}
	return pairs
}
