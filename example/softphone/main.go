// Command softphone wires a ua.UserAgent to stdin commands and stdout
// events. It is usage documentation, not part of the library's contract,
// in the spirit of the teacher's example/register client.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosoftphone/core/ua"
)

func main() {
	server := flag.String("server", "127.0.0.1", "SIP registrar host")
	port := flag.Uint("port", 5060, "SIP registrar port")
	transport := flag.String("transport", "udp", "udp, tcp or tls")
	extension := flag.String("ext", "100", "extension / AOR user part")
	password := flag.String("pass", "", "registration password")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger()

	metrics := ua.NewMetrics(prometheus.NewRegistry())
	agent := ua.New(printEvent, metrics)

	cfg := ua.Config{
		Server:    *server,
		Port:      uint16(*port),
		Transport: ua.TransportKind(*transport),
		Extension: *extension,
		Password:  *password,
	}
	if err := agent.Configure(cfg); err != nil {
		log.Fatal().Err(err).Msg("configure")
	}

	fmt.Println("commands: register, unregister, invite <target>, probe <target>, answer, hangup, mute, dtmf <digit>, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		runCommand(agent, fields)
		if fields[0] == "quit" {
			break
		}
	}
	agent.Stop()
}

func runCommand(agent *ua.UserAgent, fields []string) {
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	var err error
	switch fields[0] {
	case "register":
		err = agent.Register()
	case "unregister":
		err = agent.Unregister()
	case "invite":
		err = agent.Invite(arg)
	case "probe":
		err = agent.Probe(arg)
	case "answer":
		err = agent.Answer()
	case "hangup":
		err = agent.Hangup()
	case "mute":
		var muted bool
		muted, err = agent.ToggleMute()
		if err == nil {
			fmt.Printf("muted: %v\n", muted)
		}
	case "dtmf":
		err = agent.SendDTMF(arg)
	case "quit":
		return
	default:
		fmt.Println("unknown command:", fields[0])
		return
	}
	if err != nil {
		fmt.Println("error:", err)
	}
}

func printEvent(e ua.Event) {
	switch e.Kind {
	case ua.EventLog:
		fmt.Printf("[%s] %s\n", e.Level, e.Text)
	case ua.EventStatus:
		fmt.Printf("status: %s (%s)\n", e.Status, e.StatusText)
	case ua.EventCallState:
		fmt.Printf("call: %s (%s)\n", e.CallState, e.CallInfo)
	case ua.EventRemoteAudio:
		buf := make([]byte, len(e.Audio)*2)
		for i, s := range e.Audio {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
		}
		// A real shell would forward buf to a speaker device; the example
		// only reports the chunk size it received.
		fmt.Printf("audio: %d bytes\n", len(buf))
	}
}
