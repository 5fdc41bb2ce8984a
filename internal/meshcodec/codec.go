package meshcodec

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind tags the classified shape of a reassembled notification line.
type Kind int

const (
	Unclassified Kind = iota
	Telemetry
	Error
	Timeout
	Ack
	Ready
)

// Event is the tagged variant emitted by Classify. Only the fields relevant
// to Kind are meaningful; the rest are zero.
type Event struct {
	Kind Kind

	// Telemetry fields.
	NodeID    string
	Duty      int
	VoltageV  float64
	CurrentMA float64
	PowerMW   float64

	// Payload holds the raw remainder for Error/Timeout/Ack, the full line
	// for Ready/Unclassified, and is empty for Telemetry.
	Payload string
}

var (
	nodeIDRe = regexp.MustCompile(`(?i)NODE(\d+)`)
	sensorRe = regexp.MustCompile(`(?i)D:(\d+)%,V:([\d.]+)V,I:([\d.]+)mA,P:([\d.]+)mW`)
)

// Codec reassembles continuation-prefixed chunks into whole lines.
type Codec struct {
	buf strings.Builder
}

// New returns an empty Codec.
func New() *Codec {
	return &Codec{}
}

// Feed consumes one notification chunk. It returns (Event{}, false) while a
// continuation is in progress, and (event, true) once a final chunk has been
// reassembled and classified.
func (c *Codec) Feed(chunk string) (Event, bool) {
	if strings.HasPrefix(chunk, "+") {
		c.buf.WriteString(chunk[1:])
		return Event{}, false
	}

	full := c.buf.String() + chunk
	c.buf.Reset()
	return Classify(full), true
}

// Reset clears any buffered continuation data. Called on disconnect so a
// dropped link never bleeds a half-assembled line into the next session.
func (c *Codec) Reset() {
	c.buf.Reset()
}

// Classify applies the six classification rules, in order, to one
// already-reassembled line. It is stable under trailing whitespace and never
// fails: a line matching none of the rules comes back Unclassified.
func Classify(line string) Event {
	line = strings.TrimRight(line, " \t\r\n")

	if idx := strings.Index(line, ":DATA:"); idx >= 0 {
		nodeTag, payload := line[:idx], line[idx+len(":DATA:"):]
		nodeMatch := nodeIDRe.FindStringSubmatch(nodeTag)
		sensorMatch := sensorRe.FindStringSubmatch(payload)
		if nodeMatch != nil && sensorMatch != nil {
			duty, _ := strconv.Atoi(sensorMatch[1])
			voltage, _ := strconv.ParseFloat(sensorMatch[2], 64)
			current, _ := strconv.ParseFloat(sensorMatch[3], 64)
			power, _ := strconv.ParseFloat(sensorMatch[4], 64)
			return Event{
				Kind:      Telemetry,
				NodeID:    nodeMatch[1],
				Duty:      duty,
				VoltageV:  voltage,
				CurrentMA: current,
				PowerMW:   power,
			}
		}
		return Event{Kind: Unclassified, Payload: line}
	}

	switch {
	case strings.HasPrefix(line, "ERROR:"):
		return Event{Kind: Error, Payload: strings.TrimPrefix(line, "ERROR:")}
	case strings.HasPrefix(line, "TIMEOUT:"):
		return Event{Kind: Timeout, Payload: strings.TrimPrefix(line, "TIMEOUT:")}
	case strings.HasPrefix(line, "SENT:"):
		return Event{Kind: Ack, Payload: strings.TrimPrefix(line, "SENT:")}
	case strings.HasPrefix(line, "MESH_READY"):
		return Event{Kind: Ready, Payload: line}
	default:
		return Event{Kind: Unclassified, Payload: line}
	}
}
