package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JoshuaDoes/logger"
	"github.com/JoshuaDoes/odin-flash/flasher"
	"github.com/JoshuaDoes/odin-flash/pit"
	"github.com/spf13/pflag"
)

const (
	app = "Odin-Flash"
	ver = "v0.1.0"
	dev = "JoshuaDoes"
)

var (
	help            = false
	firmwarePath    = ""
	pitPath         = ""
	dumpPit         = ""
	dumpPitReadable = false
	noReboot        = false
	verbosity       = 1
	timeoutSecs     = 60

	log *logger.Logger
)

func usage() {
	prog := strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))
	text := fmt.Sprintf(
		" Odin-Flash drives a Samsung device in Download Mode over USB, streaming a"+
			" firmware .tar(.md5) archive through the Odin/Loke protocol.\n"+
			"\n"+
			" Usage of %s:\n"+
			" -h, --help              | none   | Prints the help you see now and ignores other arguments\n"+
			"\n"+
			" > Sources\n"+
			" -f, --firmware          | string | Firmware .tar/.tar.md5 archive to flash\n"+
			" -p, --pit               | string | PIT image to upload instead of the device's own\n"+
			"\n"+
			" > Controls\n"+
			" --no-reboot             | none   | Leave the device in Download Mode after flashing\n"+
			" --dump-pit              | string | Write the device's PIT to this path and exit\n"+
			" --dump-pit-readable     | none   | Print the dumped PIT's entries instead of raw bytes\n"+
			" -v, --verbose           | number | Log verbosity, 0 (errors only) to 3 (trace)          | %d\n"+
			" -t, --timeout           | number | Command reply timeout, in seconds                    | %d\n",
		prog, verbosity, timeoutSecs)
	fmt.Fprintf(os.Stderr, "%s\n", text)
}

func main() {
	fmt.Printf("%s %s - %s\n", app, ver, dev)

	pflag.Usage = usage
	pflag.CommandLine.SortFlags = false
	pflag.BoolVarP(&help, "help", "h", false, "")
	pflag.StringVarP(&firmwarePath, "firmware", "f", firmwarePath, "")
	pflag.StringVarP(&pitPath, "pit", "p", pitPath, "")
	pflag.BoolVar(&noReboot, "no-reboot", false, "")
	pflag.StringVar(&dumpPit, "dump-pit", "", "")
	pflag.BoolVar(&dumpPitReadable, "dump-pit-readable", false, "")
	pflag.IntVarP(&verbosity, "verbose", "v", verbosity, "")
	pflag.IntVarP(&timeoutSecs, "timeout", "t", timeoutSecs, "")
	pflag.Parse()

	if help {
		usage()
		return
	}

	log = logger.NewLogger(app, verbosity)

	if dumpPit != "" {
		runDumpPit()
		return
	}

	if firmwarePath == "" {
		log.Errorln("[!] No firmware archive specified; use -f/--firmware")
		return
	}

	runFlash()
}

func runDumpPit() {
	f := flasher.New(
		flasher.WithLogger(log),
		flasher.WithTimeout(time.Duration(timeoutSecs)*time.Second),
	)

	info, err := f.Connect()
	if err != nil {
		log.Errorf("Error connecting to device: %v", err)
		return
	}
	log.Infof("Connected to %s %s (serial %s)", info.Manufacturer, info.Product, info.Serial)
	defer f.Disconnect()

	if dumpPitReadable {
		data, err := f.DumpPit(nil)
		if err != nil {
			log.Errorf("Error dumping pit: %v", err)
			return
		}
		printPitTable(data)
		return
	}

	out, err := os.Create(dumpPit)
	if err != nil {
		log.Errorf("Error creating %q: %v", dumpPit, err)
		return
	}
	defer out.Close()

	data, err := f.DumpPit(out)
	if err != nil {
		log.Errorf("Error dumping pit: %v", err)
		return
	}
	log.Infof("Wrote %d bytes to %s", len(data), dumpPit)
}

func printPitTable(data []byte) {
	table, err := pit.Parse(data)
	if err != nil {
		log.Errorf("Error parsing pit: %v", err)
		return
	}
	for _, e := range table.Entries {
		fmt.Printf("%-20s partition_id=%-4d device_type=%-2d flash_filename=%s\n",
			e.PartitionName, e.PartitionID, e.DeviceType, e.FlashFilename)
	}
}

func runFlash() {
	src, err := os.Open(firmwarePath)
	if err != nil {
		log.Errorf("Error opening firmware archive %q: %v", firmwarePath, err)
		return
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		log.Errorf("Error stat'ing firmware archive %q: %v", firmwarePath, err)
		return
	}

	fw, err := flasher.LoadFirmware(src, stat.Size())
	if err != nil {
		log.Errorf("Error parsing firmware archive: %v", err)
		return
	}
	log.Infof("Loaded %d members from %s", len(fw.Members), firmwarePath)

	var pitOverride *pit.Table
	if pitPath != "" {
		pitData, err := os.ReadFile(pitPath)
		if err != nil {
			log.Errorf("Error reading pit override %q: %v", pitPath, err)
			return
		}
		pitOverride, err = pit.Parse(pitData)
		if err != nil {
			log.Errorf("Error parsing pit override: %v", err)
			return
		}
	}

	f := flasher.New(
		flasher.WithLogger(log),
		flasher.WithTimeout(time.Duration(timeoutSecs)*time.Second),
		flasher.WithProgressCallback(func(p flasher.Progress) {
			log.Infof("[%s] %.1f%% (%d/%d bytes)", p.CurrentMember, p.Percentage, p.BytesSent, p.BytesTotal)
		}),
	)

	info, err := f.Connect()
	if err != nil {
		log.Errorf("Error connecting to device: %v", err)
		return
	}
	log.Infof("Connected to %s %s (serial %s)", info.Manufacturer, info.Product, info.Serial)
	defer f.Disconnect()

	if err := f.Flash(context.Background(), fw, pitOverride, !noReboot); err != nil {
		log.Errorf("Error flashing: %v", err)
		return
	}
	log.Infoln("Flash complete!")
}
