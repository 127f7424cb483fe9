// i2cscan bit-bangs an I2C bus on two GPIO lines and probes every valid
// 7-bit address, printing the devices that acknowledge. The lines come
// either from the platform GPIO registry (-scl/-sda) or from an MCP2221A
// USB adapter (-hid, using GP0 as SCL and GP1 as SDA).
package main

import (
	"flag"
	"fmt"
	"log"

	"periph.io/x/conn/v3/physic"

	"github.com/lowsidelabs/softi2c"
	"github.com/lowsidelabs/softi2c/hidgpio"
)

func openBus(useHID bool, serial, sclName, sdaName string, f physic.Frequency) (*softi2c.Bus, func(), error) {
	if !useHID {
		bus, err := softi2c.Open("i2cscan", sclName, sdaName, f)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { bus.Close() }, nil
	}

	dev, err := hidgpio.Open(serial)
	if err != nil {
		return nil, nil, err
	}

	scl, err := dev.Pin(0)
	if err != nil {
		return nil, nil, err
	}
	sda, err := dev.Pin(1)
	if err != nil {
		return nil, nil, err
	}

	bus := softi2c.NewBusLines("i2cscan", scl, sda, f)
	return bus, func() {
		bus.Close()
		dev.Close()
	}, nil
}

func main() {
	useHID := flag.Bool("hid", false, "Use an MCP2221A USB adapter (GP0=SCL, GP1=SDA)")
	serial := flag.String("serial", "", "Serial number of the MCP2221A to use")
	sclName := flag.String("scl", "GPIO3", "Name of the SCL pin")
	sdaName := flag.String("sda", "GPIO2", "Name of the SDA pin")
	freq := flag.Uint("khz", 100, "Bus clock in kHz (use a low value with -hid)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")

	flag.Parse()

	f := physic.Frequency(*freq) * physic.KiloHertz

	bus, closeBus, err := openBus(*useHID, *serial, *sclName, *sdaName, f)
	if err != nil {
		log.Fatalf("Failed to open bus: %v", err)
	}
	defer closeBus()

	if *verbose {
		bus.SetLog(log.Printf)
	}

	log.Printf("Scanning %s at %s", bus, f)

	found := 0
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		var b [1]byte
		if err := bus.Tx(addr, nil, b[:]); err != nil {
			continue
		}

		fmt.Printf("0x%02x: device present\n", addr)
		found++
	}

	log.Printf("Done, %d device(s) found", found)
}
