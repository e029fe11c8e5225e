// audioclient streams an audio file to the transcription service over
// WebSocket and prints the updates it receives.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/ws", "WebSocket endpoint")
		file      = flag.String("file", "", "audio file to stream (webm/opus)")
		frameSize = flag.Int("frame", 16*1024, "bytes per frame")
		pace      = flag.Duration("pace", 250*time.Millisecond, "delay between frames")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: audioclient -file recording.webm [-url ws://...]")
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fmt.Printf("<- %s\n", payload)
		}
	}()

	for off := 0; off < len(data); off += *frameSize {
		end := off + *frameSize
		if end > len(data) {
			end = len(data)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			fmt.Fprintf(os.Stderr, "write frame: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(*pace)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"stop"}`)); err != nil {
		fmt.Fprintf(os.Stderr, "write stop: %v\n", err)
		os.Exit(1)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for final transcript")
	}
}
