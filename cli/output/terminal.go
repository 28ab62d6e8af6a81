package output

import (
	"fmt"
	"strconv"

	"github.com/jgoldverg/nexusgw/pkg/nexus"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
	"github.com/pterm/pterm"
)

// PrintKeyValueTable renders rows of key/value pairs in the order given.
func PrintKeyValueTable(rows [][2]string) error {
	tableData := [][]string{
		{"Key", "Value"},
	}
	for _, r := range rows {
		tableData = append(tableData, []string{r[0], r[1]})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
}

// PrintDeviceTable renders the device records of one discovery packet.
func PrintDeviceTable(p *nexuswire.DiscoveryPacket) error {
	tableData := [][]string{
		{"Serial", "Control", "Last Update", "Sensors", "Client", "Ports"},
	}
	for i := range p.Devices {
		d := &p.Devices[i]
		tableData = append(tableData, []string{
			d.Serial,
			strconv.Itoa(int(d.ControlPort)),
			strconv.FormatFloat(d.LastUpdate, 'f', 3, 64),
			nexus.SensorHealth(d),
			d.ClientIPv4,
			fmt.Sprint(d.Ports()),
		})
	}
	pterm.DefaultSection.Println("Nexus " + p.SourceIPv4)
	return pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
}
