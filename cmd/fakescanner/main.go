package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"nuha.dev/rflocate/internal/collector"
	"nuha.dev/rflocate/internal/rfid"
)

type scanner struct {
	c   net.Conn
	msg collector.FrameMessage
	log log.Logger
}

func main() {
	var addr, device string
	var reports, emitters int
	var interval time.Duration

	root := &cobra.Command{
		Use:          "fakescanner",
		Short:        "Sends random scan reports to an rflocated collector",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(addr, device)
			if err != nil {
				return err
			}
			defer s.c.Close()
			for i := 0; reports <= 0 || i < reports; i++ {
				if err = s.report(randomReport(emitters)); err != nil {
					return err
				}
				time.Sleep(interval)
			}
			return nil
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:6000", "collector address")
	root.Flags().StringVar(&device, "device", "fake-1", "device id sent at login")
	root.Flags().IntVar(&reports, "reports", 10, "number of reports, 0 runs forever")
	root.Flags().IntVar(&emitters, "emitters", 8, "emitters per report")
	root.Flags().DurationVar(&interval, "interval", time.Second, "delay between reports")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dial(addr, device string) (*scanner, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &scanner{c: c}
	s.msg.Buffer = make([]byte, 4096)
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "fakescanner").Str("device_id", device).Value()
	if _, err = s.send(collector.LOGIN, collector.LoginMessage{DeviceId: device}); err != nil {
		c.Close()
		return nil, err
	}
	s.log.Info().Str("addr", addr).Msg("logged in")
	return s, nil
}

func (s *scanner) send(protocol byte, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	buf, err := collector.AppendFrame(nil, protocol, payload)
	if err != nil {
		return nil, err
	}
	if _, err = s.c.Write(buf); err != nil {
		return nil, err
	}
	_ = s.c.SetReadDeadline(time.Now().Add(40 * time.Second))
	if err = collector.ReadMessage(s.c, &s.msg); err != nil {
		return nil, err
	}
	if s.msg.Protocol != collector.ACK {
		return nil, fmt.Errorf("collector answered 0x%02x", s.msg.Protocol)
	}
	return s.msg.Payload, nil
}

func (s *scanner) report(r collector.ScanReport) error {
	d, err := s.send(collector.SCAN_REPORT, r)
	if err != nil {
		return err
	}
	var res collector.IngestResult
	if err = json.Unmarshal(d, &res); err != nil {
		return err
	}
	s.log.Info().Int("accepted", res.Accepted).Int("rejected", res.Rejected).Int("dropped", res.Dropped).Msg("report sent")
	return nil
}

func randomReport(n int) collector.ScanReport {
	r := collector.ScanReport{Emitters: make([]collector.EmitterReport, n)}
	for i := range r.Emitters {
		t := rfid.EmitterType(rand.Intn(int(rfid.NR) + 1))
		var id string
		if t.IsWLAN() {
			id = fmt.Sprintf("02:00:00:00:%02x:%02x", rand.Intn(4), rand.Intn(256))
		} else {
			id = fmt.Sprintf("%d/%d/%d", 510, rand.Intn(100), rand.Intn(64))
		}
		r.Emitters[i] = collector.EmitterReport{Id: id, Type: t.String(), ASU: rand.Intn(40) - 4}
	}
	return r
}
