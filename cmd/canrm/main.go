// canrm is the user-space resource manager: it owns one SJA1000
// controller, services its interrupt, and multiplexes the frame stream
// to client processes over a device node. Grounded on
// original_source/resmgr/src/peak_can_res_mgr.cpp's main().
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vdatab/canrm/internal/broadcast"
	"github.com/vdatab/canrm/internal/devnode"
	"github.com/vdatab/canrm/internal/irqsource"
	"github.com/vdatab/canrm/internal/register"
	"github.com/vdatab/canrm/internal/sja1000"
)

const (
	versionMajor = 1
	versionMinor = 0
	versionPatch = 0
)

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: canrm [options]")
	flag.PrintDefaults()
}

func main() {
	var (
		baud       = flag.Int("s", 125, "bus baudrate in kbps (one of the supported rates)")
		devName    = flag.String("d", "can0", "device name suffix under /dev/")
		ringSizeK  = flag.Uint("B", 8, "ring capacity as 2^k frames, 0-24")
		testMode   = flag.Bool("t", false, "test mode: enable debug logging (canrm always runs in the foreground)")
		before     = flag.Bool("b", false, "register before any existing resource at this path (recorded in the startup log only)")
		after      = flag.Bool("a", false, "register after any existing resource at this path (recorded in the startup log only)")
		chdirTo    = flag.String("r", "", "chdir to this directory before starting")
		showVer    = flag.Bool("V", false, "print version and exit")
		showUsage  = flag.Bool("h", false, "print usage and exit")
		memBase    = flag.Uint64("m", 0, "physical base address of the mmap'd register window (0 = use port I/O instead)")
		memShift   = flag.Uint("shift", 0, "register address shift, 0-8")
		memWindow  = flag.Int("winsize", 256, "size in bytes of the mmap'd register window")
		portIOBase = flag.Uint64("port", 0, "base I/O port when not memory-mapped")
		uioIndex   = flag.Int("uio", 0, "UIO device index (/dev/uioN) carrying the controller's interrupt")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showUsage {
		printUsage()
		return
	}
	if *showVer {
		fmt.Printf("canrm version %d.%d.%d\n", versionMajor, versionMinor, versionPatch)
		return
	}
	if *before && *after {
		fmt.Fprintln(os.Stderr, "canrm: -a and -b cannot be given together")
		os.Exit(1)
	}
	if *ringSizeK > 24 {
		fmt.Fprintln(os.Stderr, "canrm: -B must be 0-24")
		os.Exit(1)
	}
	if *chdirTo != "" {
		if err := os.Chdir(*chdirTo); err != nil {
			fmt.Fprintf(os.Stderr, "canrm: chdir %s: %v\n", *chdirTo, err)
			os.Exit(1)
		}
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	if *testMode {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// The original elevates to euid 0 before it can mmap the PCI BIOS
	// region or acquire I/O port privilege; it never drops back down
	// since the chip stays mapped for the process lifetime.
	if os.Geteuid() != 0 {
		log.Warn("not running as root; memory-mapped or port register access will likely fail")
	}

	baudRate, err := sja1000.ParseBaudRate(*baud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "canrm: %v\n", err)
		os.Exit(1)
	}

	acc, err := openAccessor(*memBase, uint8(*memShift), *memWindow, *portIOBase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "canrm: %v\n", err)
		os.Exit(1)
	}
	defer acc.Close()

	irq, err := irqsource.OpenUIO(*uioIndex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "canrm: opening interrupt source: %v\n", err)
		os.Exit(1)
	}

	controller := sja1000.New(acc, irq, baudRate, log.WithField("component", "sja1000"))
	if err := controller.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "canrm: %v\n", err)
		os.Exit(1)
	}

	ring, err := broadcast.NewRing(uint32(*ringSizeK))
	if err != nil {
		fmt.Fprintf(os.Stderr, "canrm: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	feeder := broadcast.NewFeeder(controller, ring, log.WithField("component", "feeder"))
	go feeder.Run(ctx)

	devicePath := "/dev/" + *devName
	srv := devnode.NewServer(devicePath, ring, controller, log.WithField("component", "devnode"))

	resourceOrder := "default"
	if *before {
		resourceOrder = "before"
	} else if *after {
		resourceOrder = "after"
	}
	log.WithFields(logrus.Fields{
		"path":  devicePath,
		"baud":  baudRate,
		"ring":  fmt.Sprintf("2^%d", *ringSizeK),
		"order": resourceOrder,
	}).Info("canrm starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("signal caught, shutting down")
		cancel()
	}()

	if err := srv.Serve(ctx); err != nil {
		log.WithError(err).Error("device node server exited")
	}

	cancel()
	if err := controller.Close(); err != nil {
		log.WithError(err).Warn("error closing controller")
	}
	log.Info("canrm stopped")
}

// openAccessor picks the register.Accessor implementation: memory-mapped
// when a physical base address is given, port I/O otherwise. Grounded
// on ControllerFactory's chip-mapper selection, minus the PCI BIOS
// region discovery it performed itself — that enumeration is out of
// scope here, so the resource parameters are supplied directly.
func openAccessor(physAddr uint64, shift uint8, windowSize int, portBase uint64) (register.Accessor, error) {
	if physAddr != 0 {
		fd, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
		if err != nil {
			return nil, fmt.Errorf("opening /dev/mem: %w", err)
		}
		defer fd.Close()
		return register.NewMemoryMapped(int(fd.Fd()), int64(physAddr), windowSize, shift)
	}
	return register.NewPortIO(portBase, shift)
}
