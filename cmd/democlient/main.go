// Command democlient drives one relay session from the terminal: it
// authenticates, opens the relay socket, streams PCM16 audio from a
// file, and prints the running conversation as canonical events
// arrive.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/swara-ai/swara/internal/classify"
	"github.com/swara-ai/swara/internal/convo"
)

func main() {
	server := flag.String("server", "localhost:8080", "relay host:port")
	clientID := flag.String("client-id", "client", "client id")
	clientSecret := flag.String("client-secret", "secret", "client secret")
	audioFile := flag.String("audio", "", "PCM16 little-endian mono file to stream")
	voice := flag.String("voice", "aura", "agent voice identifier")
	sampleRate := flag.Int("rate", 48000, "PCM sample rate in Hz")
	flag.Parse()

	token, err := authenticate(*server, *clientID, *clientSecret)
	if err != nil {
		log.Fatal("Failed to authenticate:", err)
	}
	log.Println("Authenticated")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *server, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	logger, _ := zap.NewDevelopment()
	classifier := classify.New(logger)
	aggregator := convo.NewAggregator(convo.NewSystemClock(), logger,
		convo.WithVoiceLabel(*voice), convo.WithSampleRate(*sampleRate))

	done := make(chan struct{})
	go consume(c, classifier, aggregator, done)

	if err := sendAgentRequest(c, *voice, *sampleRate); err != nil {
		log.Fatal("agent request:", err)
	}

	if *audioFile != "" {
		if err := streamAudio(c, *audioFile); err != nil {
			log.Println("audio stream:", err)
		}
	}

	select {
	case <-done:
		return
	case <-interrupt:
		log.Println("interrupt")
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return
	}
}

func authenticate(server, clientID, clientSecret string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
	})
	if err != nil {
		return "", err
	}

	resp, err := http.Post("http://"+server+"/api/v1/auth", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication failed: %s", string(raw))
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &auth); err != nil {
		return "", err
	}
	return auth.Token, nil
}

// sendAgentRequest sends the mandatory first control message of a
// session: voice, instructions, and the audio format.
func sendAgentRequest(c *websocket.Conn, voice string, sampleRate int) error {
	request := map[string]interface{}{
		"type": "agent-request",
		"agent": map[string]interface{}{
			"model":        voice,
			"instructions": "You are a helpful voice assistant. Keep answers short.",
		},
		"audio": map[string]interface{}{
			"encoding":    "linear16",
			"sample_rate": sampleRate,
		},
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, payload)
}

// streamAudio sends the file as raw PCM frames, then ends the stream.
func streamAudio(c *websocket.Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	const chunkSize = 4096
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := c.WriteMessage(websocket.BinaryMessage, data[start:end]); err != nil {
			return err
		}
		// Pace roughly like a live microphone.
		time.Sleep(40 * time.Millisecond)
	}

	return c.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

// consume folds incoming frames into the conversation and prints each
// finalized turn.
func consume(c *websocket.Conn, classifier *classify.Classifier, aggregator *convo.Aggregator, done chan struct{}) {
	defer close(done)

	printed := 0
	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}

		var events []classify.Event
		if messageType == websocket.BinaryMessage {
			events = classifier.ClassifyBinary(message)
		} else {
			events = classifier.ClassifyText(message)
		}

		for _, event := range events {
			aggregator.Apply(event)
		}

		for _, turn := range aggregator.Conversation()[printed:] {
			if !turn.Final {
				break
			}
			fmt.Printf("[%s] %s\n", turn.Role, turn.Text)
			printed++
		}
	}
}
