package main

import (
	"context"
	"io"
	"log"
	"time"

	quicore "github.com/nitishtalasu/msquic"
	"github.com/nitishtalasu/msquic/datapath"
)

func main() {
	log.Println("--- Starting QUIC-like protocol demo ---")

	clientTransport, serverTransport := datapath.NewInMemoryPair()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var serverErr, clientErr error
	done := make(chan struct{}, 2)

	var server *quicore.Connection
	go func() {
		defer func() { done <- struct{}{} }()
		server, serverErr = quicore.NewConnection(serverTransport, false, nil)
		if serverErr != nil {
			return
		}
		serverErr = server.Run(ctx)
	}()

	var client *quicore.Connection
	go func() {
		defer func() { done <- struct{}{} }()
		client, clientErr = quicore.NewConnection(clientTransport, true, nil)
		if clientErr != nil {
			return
		}
		clientErr = client.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	go func() {
		log.Println("[APP] Client opening stream...")
		stream, err := client.OpenStream(ctx)
		if err != nil {
			log.Printf("Client failed to open stream: %v", err)
			return
		}
		log.Printf("[APP] Client opened stream %d", stream.StreamID())

		message := "Hello from the client! This is a test of the custom QUIC-like stack."
		log.Printf("[APP] Client writing: \"%s\"", message)
		_, err = stream.Write([]byte(message))
		if err != nil {
			log.Printf("Client failed to write to stream: %v", err)
			return
		}
		stream.Close()
		log.Println("[APP] Client closed stream writer.")

		log.Println("[APP] Server accepting stream...")
		serverStream, err := server.AcceptStream(ctx)
		if err != nil {
			log.Printf("Server failed to accept stream: %v", err)
			return
		}
		log.Printf("[APP] Server accepted stream %d", serverStream.StreamID())

		log.Println("[APP] Server reading from stream...")
		buffer, err := io.ReadAll(serverStream)
		if err != nil {
			log.Printf("Server failed to read from stream: %v", err)
			return
		}

		log.Printf("[APP] Server received: \"%s\"", string(buffer))
		if string(buffer) == message {
			log.Println("[SUCCESS] Data integrity confirmed.")
		} else {
			log.Println("[FAILURE] Data mismatch!")
		}
		cancel()
	}()

	<-done
	<-done

	if clientErr != nil && clientErr != context.Canceled {
		log.Printf("Client exited with error: %v", clientErr)
	}
	if serverErr != nil && serverErr != context.Canceled {
		log.Printf("Server exited with error: %v", serverErr)
	}

	log.Println("--- Demo finished ---")
}
