// candump dumps frames from a canrm device node. Filtering happens
// client-side exactly as in the original, which never asks the driver
// to filter: it just calls CanFilterPassed on every frame it reads.
// Grounded on original_source/candump/candump.cpp.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vdatab/canrm/internal/canbus"
	"github.com/vdatab/canrm/pkg/canclient"
)

type filterRule struct {
	canID   uint32
	canMask uint32
	inverse bool
}

func (r filterRule) accepts(frame canbus.Frame) bool {
	masked := frame.CanID & r.canMask
	pattern := r.canID & r.canMask
	if r.inverse {
		return masked != pattern
	}
	return masked == pattern
}

func anyAccepts(rules []filterRule, frame canbus.Frame) bool {
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if r.accepts(frame) {
			return true
		}
	}
	return false
}

// parseFilter handles "<id>:<mask>" (match) and "<id>~<mask>" (inverse
// match); an 8-hex-digit id sets the EFF flag. Grounded on
// candump.cpp's ParseCanFilter.
func parseFilter(s string) (filterRule, bool) {
	sep := strings.IndexAny(s, ":~")
	if sep < 0 {
		return filterRule{}, false
	}
	idPart, maskPart := s[:sep], s[sep+1:]
	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return filterRule{}, false
	}
	mask, err := strconv.ParseUint(maskPart, 16, 32)
	if err != nil {
		return filterRule{}, false
	}
	rule := filterRule{canID: uint32(id), canMask: uint32(mask) &^ canbus.ERR}
	if s[sep] == '~' {
		rule.inverse = true
	}
	if len(idPart) == 8 {
		rule.canID |= canbus.EFF
	}
	return rule, true
}

func formatTimestamp(mode byte, useNs bool, start time.Time) string {
	var sec, frac int64
	switch mode {
	case 'a':
		now := time.Now()
		sec = now.Unix()
		if useNs {
			frac = int64(now.Nanosecond())
			return fmt.Sprintf("%010d.%09d", sec, frac)
		}
		frac = int64(now.Nanosecond() / 1000)
		return fmt.Sprintf("%010d.%06d", sec, frac)
	case 'A':
		now := time.Now()
		if useNs {
			return now.Format("2006-01-02 15:04:05.000000000")
		}
		return now.Format("2006-01-02 15:04:05.000000")
	case 'd', 'z':
		elapsed := time.Since(start)
		sec = int64(elapsed / time.Second)
		if useNs {
			frac = int64(elapsed % time.Second)
			return fmt.Sprintf("%010d.%09d", sec, frac)
		}
		frac = int64((elapsed % time.Second) / time.Microsecond)
		return fmt.Sprintf("%010d.%06d", sec, frac)
	default:
		return ""
	}
}

func formatFrame(ifname string, frame canbus.Frame, ts string, ascii bool) string {
	var b strings.Builder
	if ts != "" {
		b.WriteString(ts)
		b.WriteString(" ")
	}
	b.WriteString(ifname)
	fmt.Fprintf(&b, "%10X%3d ", frame.ID(), int(frame.Len))
	for i := 0; i < 8; i++ {
		if int(frame.Len) <= i {
			b.WriteString("   ")
		} else {
			fmt.Fprintf(&b, " %02X", frame.Data[i])
		}
	}
	if ascii {
		b.WriteString("  ")
		for i := 0; i < int(frame.Len); i++ {
			c := frame.Data[i]
			if c > 31 && c != 127 {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
	}
	return b.String()
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: candump [options] <ifname>[,filter]*")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nFilters: <can_id>:<can_mask> (match) or <can_id>~<can_mask> (inverse match)")
}

func main() {
	var (
		tsMode    = flag.String("t", "", "timestamp mode: a/A/d/z")
		useNs     = flag.Bool("N", false, "log nanosecond timestamps instead of microseconds")
		ascii     = flag.Bool("a", false, "enable ASCII output")
		silent    = flag.Bool("s", false, "silent mode")
		logToFile = flag.Bool("l", false, "log frames into a timestamped file")
		logName   = flag.String("f", "", "log frames into this file")
		count     = flag.Int("n", 0, "terminate after this many frames")
	)
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() != 1 {
		printUsage()
		os.Exit(0)
	}

	tokens := strings.Split(flag.Arg(0), ",")
	ifname := tokens[0]

	var rules []filterRule
	for _, tok := range tokens[1:] {
		if rule, ok := parseFilter(tok); ok {
			rules = append(rules, rule)
		}
	}

	logging := *logToFile || *logName != ""
	name := *logName
	if logging && name == "" {
		name = time.Now().Format("candump-2006-01-02_150405.log")
	}

	var logFile *os.File
	if logging && name != "-" {
		f, err := os.Create(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "candump: open logfile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logFile = f
		fmt.Printf("Enabling Logfile '%s'\n", name)
	} else if logging && name == "-" {
		logging = false
	}
	if logging && !*silent {
		fmt.Println("Warning: Console output active while logging!")
	}

	client, err := canclient.Open("/dev/"+ifname, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candump: open %s controller error: %v\n", ifname, err)
		os.Exit(1)
	}
	defer client.Close()

	mode := byte(0)
	if len(*tsMode) > 0 {
		switch (*tsMode)[0] {
		case 'a', 'A', 'd', 'z':
			mode = (*tsMode)[0]
		default:
			fmt.Fprintf(os.Stderr, "candump: unknown timestamp mode '%s' - ignored\n", *tsMode)
		}
	}

	start := time.Now()
	remaining := *count

	for {
		frame, err := client.Read()
		if err != nil {
			fmt.Fprintln(os.Stderr, "candump: read error")
			break
		}
		if !anyAccepts(rules, frame) {
			continue
		}

		ts := formatTimestamp(mode, *useNs, start)
		line := formatFrame(ifname, frame, ts, *ascii)

		if !*silent {
			fmt.Println(line)
		}
		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}

		if remaining > 0 {
			remaining--
			if remaining == 0 {
				break
			}
		}
	}
}
