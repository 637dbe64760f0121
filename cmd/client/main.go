package main

import (
	"fmt"
	"log"
	"net/rpc"
	"os"
	"strconv"
	"time"

	"github.com/epokhe/qdb/remote"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  client append <routing-key> <payload>\n")
	fmt.Fprintf(os.Stderr, "  client tail <from-id>\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	client, err := rpc.Dial("tcp", "localhost:1729")
	if err != nil {
		log.Fatalf("failed to dial rpc: %v\n", err)
	}

	switch os.Args[1] {
	case "append":
		if len(os.Args) != 4 {
			usage()
		}
		routingKey, payload := os.Args[2], os.Args[3]

		var reply remote.AppendReply
		args := &remote.AppendArgs{
			Timestamp:  time.Now().UnixMilli(),
			RoutingKey: routingKey,
			Payload:    []byte(payload),
		}
		if err := client.Call("Buffer.Append", args, &reply); err != nil {
			log.Fatalf("append failed: %v\n", err)
		}
		fmt.Println(reply.ID)

	case "tail":
		if len(os.Args) != 3 {
			usage()
		}
		fromID, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("bad from-id: %v\n", err)
		}

		var openReply remote.OpenCursorReply
		if err := client.Call("Buffer.OpenCursor", &remote.OpenCursorArgs{ID: fromID}, &openReply); err != nil {
			log.Fatalf("open cursor failed: %v\n", err)
		}

		for {
			var nextReply remote.NextReply
			args := &remote.NextArgs{CursorID: openReply.CursorID, TimeoutMillis: 0}
			if err := client.Call("Buffer.Next", args, &nextReply); err != nil {
				log.Fatalf("next failed: %v\n", err)
			}
			m := nextReply.Message
			fmt.Printf("%d\t%d\t%s\t%s\n", m.ID, m.Timestamp, m.RoutingKey, m.Payload)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", os.Args[1])
		usage()
	}
}
