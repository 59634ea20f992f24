// cansend transmits one frame given on the command line. Grounded on
// original_source/cansend/cansend.cpp's ParseCanFrame.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vdatab/canrm/internal/canbus"
	"github.com/vdatab/canrm/pkg/canclient"
)

func printUsage(progname string) {
	fmt.Printf(`%s - send CAN frames.

Usage: %s <device> <can_frame>

<can_frame>:
  <can_id>#{data}   data frame
  <can_id>#R{len}   remote frame

<can_id>: 3 (SFF) or 8 (EFF) hex chars
{data}: 0..8 ASCII hex bytes, optionally separated by '.'
{len}: optional 0..8 dlc for remote frames

Examples:
  5A1#11.2233.44556677.88 / 123#DEADBEEF / 5AA#
  1F334455#1122334455667788 / 123#R / 00000123#R3 / 333#R8
`, progname, progname)
}

func isHexChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

// parseCanFrame parses "<id>#{data}" or "<id>#R{len}". The id before
// the # must be 1-8 hex characters (a valid SFF or EFF id).
func parseCanFrame(s string) (canbus.Frame, error) {
	sep := strings.IndexByte(s, '#')
	if sep < 0 || sep > 8 {
		return canbus.Frame{}, fmt.Errorf("missing or misplaced '#'")
	}
	idPart, data := s[:sep], s[sep+1:]

	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return canbus.Frame{}, fmt.Errorf("invalid can_id %q: %w", idPart, err)
	}

	var frame canbus.Frame
	frame.CanID = uint32(id)
	if sep > 3 || frame.CanID > 0x7FF {
		frame.CanID |= canbus.EFF
	}

	if data == "" {
		return frame, nil
	}

	if data[0] == 'r' || data[0] == 'R' {
		switch len(data) {
		case 1:
			frame.Len = 0
		case 2:
			if data[1] < '0' || data[1] > '8' {
				return canbus.Frame{}, fmt.Errorf("invalid remote frame length %q", data[1:])
			}
			frame.Len = data[1] - '0'
		default:
			return canbus.Frame{}, fmt.Errorf("invalid remote frame suffix %q", data)
		}
		frame.CanID |= canbus.RTR
		return frame, nil
	}

	var values []string
	for _, part := range strings.Split(data, ".") {
		if part == "" {
			return canbus.Frame{}, fmt.Errorf("empty byte group in %q", data)
		}
		for i := 0; i < len(part); i += 2 {
			end := i + 2
			if end > len(part) {
				end = i + 1
			}
			values = append(values, part[i:end])
		}
	}
	if len(values) > 8 {
		return canbus.Frame{}, fmt.Errorf("too many data bytes in %q", data)
	}
	for i, v := range values {
		if !isHexChar(v[0]) || (len(v) == 2 && !isHexChar(v[1])) {
			return canbus.Frame{}, fmt.Errorf("invalid hex byte %q", v)
		}
		b, err := strconv.ParseUint(v, 16, 8)
		if err != nil {
			return canbus.Frame{}, fmt.Errorf("invalid hex byte %q: %w", v, err)
		}
		frame.Data[i] = byte(b)
	}
	frame.Len = uint8(len(values))
	return frame, nil
}

func main() {
	if len(os.Args) != 3 {
		printUsage(os.Args[0])
		os.Exit(1)
	}

	device, frameStr := os.Args[1], os.Args[2]

	frame, err := parseCanFrame(frameStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage(os.Args[0])
		os.Exit(1)
	}

	client, err := canclient.Open("/dev/"+device, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cansend: open %s controller error: %v\n", device, err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Write(frame); err != nil {
		fmt.Fprintf(os.Stderr, "cansend: cannot write message to the can controller: %v\n", err)
		os.Exit(1)
	}
}
