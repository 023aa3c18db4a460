// Package protocol maps honeypot destination ports onto the fixed set of
// protocol labels shown on the indicator.
package protocol

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Label names a watched network service.
type Label string

const (
	FTP   Label = "ftp"
	SSH   Label = "ssh"
	HTTP  Label = "http"
	HTTPS Label = "https"
	SNMP  Label = "snmp"
	MySQL Label = "mysql"
	RDP   Label = "rdp"
	Git   Label = "git"
)

// Count is the number of known labels and the length of every indicator state.
const Count = 8

// labels is ordered by indicator slot. The order must never change once a
// strip is wired.
var labels = [Count]Label{FTP, SSH, HTTP, HTTPS, SNMP, MySQL, RDP, Git}

var portTable = map[int]Label{
	21:   FTP,
	22:   SSH,
	80:   HTTP,
	443:  HTTPS,
	161:  SNMP,
	3306: MySQL,
	3389: RDP,
	9418: Git,
}

var labelPorts = func() map[Label]int {
	m := make(map[Label]int, len(portTable))
	for port, l := range portTable {
		m[l] = port
	}
	return m
}()

// All returns the labels in slot order.
func All() []Label {
	out := make([]Label, Count)
	copy(out, labels[:])
	return out
}

// Index returns the indicator slot for l.
func Index(l Label) (int, bool) {
	for i, candidate := range labels {
		if candidate == l {
			return i, true
		}
	}
	return 0, false
}

// At returns the label assigned to slot i.
func At(i int) Label {
	return labels[i]
}

// Port returns the destination port that maps to l.
func Port(l Label) (int, bool) {
	p, ok := labelPorts[l]
	return p, ok
}

// Parse resolves a user-supplied label name, ignoring case and surrounding
// whitespace.
func Parse(name string) (Label, bool) {
	l := Label(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := Index(l); !ok {
		return "", false
	}
	return l, true
}

// Classify maps a decoded dst_port value to a label. Missing, non-numeric,
// fractional and unmapped ports all report false.
func Classify(dstPort any) (Label, bool) {
	port, ok := portNumber(dstPort)
	if !ok {
		return "", false
	}
	l, ok := portTable[port]
	return l, ok
}

func portNumber(v any) (int, bool) {
	switch p := v.(type) {
	case nil:
		return 0, false
	case int:
		return p, true
	case int32:
		return int(p), true
	case int64:
		return int(p), p >= math.MinInt32 && p <= math.MaxInt32
	case float64:
		if p != math.Trunc(p) || math.IsInf(p, 0) || math.Abs(p) > math.MaxInt32 {
			return 0, false
		}
		return int(p), true
	case json.Number:
		if n, err := strconv.Atoi(string(p)); err == nil {
			return n, true
		}
		f, err := p.Float64()
		if err != nil {
			return 0, false
		}
		return portNumber(f)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func (l Label) String() string { return string(l) }
